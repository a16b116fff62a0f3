package shipper

import (
	"testing"

	"github.com/tinytelemetry/ferry/internal/model"
)

func TestDiscoverDataset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		loc  model.SourceLocator
		want string
	}{
		{model.SourceLocator{Kind: model.SourceS3, Key: "AWSLogs/1/CloudTrail/us-east-1/x.json.gz"}, "aws.cloudtrail"},
		{model.SourceLocator{Kind: model.SourceS3, Key: "exportedlogs/fn/000000.gz"}, "aws.cloudwatch_logs"},
		{model.SourceLocator{Kind: model.SourceS3, Key: "AWSLogs/1/elasticloadbalancing/x.log.gz"}, "aws.elb_logs"},
		{model.SourceLocator{Kind: model.SourceS3, Key: "AWSLogs/1/vpcflowlogs/x.log.gz"}, "aws.vpcflow"},
		{model.SourceLocator{Kind: model.SourceS3, Key: "AWSLogs/1/WAFLogs/x.log.gz"}, "aws.waf"},
		{model.SourceLocator{Kind: model.SourceS3, Key: "app/service.log"}, model.DefaultDataset},
		{model.SourceLocator{Kind: model.SourceCloudWatch, LogGroup: "/aws/lambda/fn"}, model.DefaultDataset},
	}

	for _, tt := range tests {
		if got := DiscoverDataset(tt.loc); got != tt.want {
			t.Fatalf("DiscoverDataset(%q) = %q, want %q", tt.loc.Key, got, tt.want)
		}
	}
}

func TestIndexName(t *testing.T) {
	t.Parallel()

	if got := IndexName("aws.vpcflow", "default"); got != "logs-aws.vpcflow-default" {
		t.Fatalf("IndexName = %q", got)
	}
}
