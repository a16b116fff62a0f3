package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tinytelemetry/ferry/internal/config"
	"github.com/tinytelemetry/ferry/internal/duckdb"
	"github.com/tinytelemetry/ferry/internal/handler"
	"github.com/tinytelemetry/ferry/internal/journal"
	"github.com/tinytelemetry/ferry/internal/resume"
	"github.com/tinytelemetry/ferry/internal/shipper"
	"github.com/tinytelemetry/ferry/internal/storage"
	"github.com/tinytelemetry/ferry/internal/trigger"
)

// runtime holds the process-wide handles shared by every invocation.
type runtime struct {
	store   *duckdb.Store
	journal *journal.Journal
	inputs  *config.Config
	objects *s3.Client
	handler *handler.Handler
}

func newRuntime(ctx context.Context, cfg appConfig) (*runtime, error) {
	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	rt.store = store

	secrets := config.EnvSecretResolver{Prefix: cfg.SecretEnvPrefix}
	if cfg.InputsPath != "" {
		rt.inputs, err = config.Load(ctx, cfg.InputsPath, secrets)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("server: no inputs file configured; only self-describing continuations can be processed")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	objects, err := storage.NewS3Client(ctx, storage.S3Config{
		Region:       cfg.AWSRegion,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.AWSAccessKey,
		SecretKey:    cfg.AWSSecretKey,
		SessionToken: cfg.AWSSessionToken,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	rt.objects = objects

	var queues *sqs.Client
	if cfg.ContinuationQueueURL != "" || cfg.ReplayQueueURL != "" {
		queues = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint := strings.TrimSpace(cfg.SQSEndpoint); endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}

	var cont resume.Continuation
	if cfg.ContinuationQueueURL != "" {
		cont = resume.NewSQSContinuation(queues, cfg.ContinuationQueueURL)
	} else {
		rt.journal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open continuation journal: %w", err)
		}
		cont = resume.NewJournalContinuation(rt.journal)
	}

	var replay handler.ReplayFactory
	if cfg.ReplayQueueURL != "" {
		replay = func(inputType, inputID, doc string) shipper.ReplaySink {
			return shipper.NewSQSReplay(queues, cfg.ReplayQueueURL, inputType, inputID, doc)
		}
	}

	rt.handler, err = handler.New(handler.Options{
		Config:       rt.inputs,
		Secrets:      secrets,
		Router:       trigger.NewRouter(objects, awsCfg.Region),
		Backend:      store,
		Continuation: cont,
		Replay:       replay,
		Grace:        cfg.GracePeriod,
		ChunkSize:    cfg.ChunkSize,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.journal != nil {
		_ = rt.journal.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

func loadAWSConfig(ctx context.Context, cfg appConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(cfg.AWSRegion) != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.AWSSessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}
