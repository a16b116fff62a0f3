package shipper

import (
	"strings"

	"github.com/tinytelemetry/ferry/internal/model"
)

// datasetRules map S3 key fragments written by AWS services to datasets.
// Order matters: the first matching rule wins.
var datasetRules = []struct {
	fragments []string
	dataset   string
}{
	{[]string{"/CloudTrail/", "/CloudTrail-Digest/", "/CloudTrail-Insight/"}, "aws.cloudtrail"},
	{[]string{"exportedlogs", "awslogs"}, "aws.cloudwatch_logs"},
	{[]string{"/elasticloadbalancing/"}, "aws.elb_logs"},
	{[]string{"/network-firewall/"}, "aws.firewall_logs"},
	{[]string{"lambda"}, "aws.lambda"},
	{[]string{"/SMSUsageReports/"}, "aws.sns"},
	{[]string{"/StorageLens/"}, "aws.s3_storage_lens"},
	{[]string{"/vpcflowlogs/"}, "aws.vpcflow"},
	{[]string{"/WAFLogs/"}, "aws.waf"},
}

// DiscoverDataset infers a dataset from the source of an event. Only S3
// object keys carry enough information; everything else is generic.
func DiscoverDataset(loc model.SourceLocator) string {
	if loc.Kind != model.SourceS3 || loc.Key == "" {
		return model.DefaultDataset
	}
	for _, rule := range datasetRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(loc.Key, fragment) {
				return rule.dataset
			}
		}
	}
	return model.DefaultDataset
}

// IndexName returns the data stream an event with dataset and namespace lands in.
func IndexName(dataset, namespace string) string {
	return "logs-" + dataset + "-" + namespace
}
