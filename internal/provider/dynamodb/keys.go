package dynamodb

import (
	"fmt"
	"time"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK/SK prefix constants.
const (
	prefixFile   = "FILE#"
	prefixReport = "REPORT#"
	prefixJob    = "JOB#"

	skFile   = "FILE"
	skReport = "REPORT"
	skJob    = "JOB"
)

func filePK(digest string) string   { return prefixFile + digest }
func reportPK(fileID string) string { return prefixReport + fileID }
func jobPK(id string) string        { return prefixJob + id }

func itemKey(pk, sk string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: pk},
		"SK": &ddbtypes.AttributeValueMemberS{Value: sk},
	}
}

// ttlEpoch returns the Unix epoch seconds at which an item written now
// with the given retention should expire.
func ttlEpoch(now time.Time, ttl time.Duration) string {
	return fmt.Sprintf("%d", now.Add(ttl).Unix())
}
