package ecsrt

import "time"

// actorRecord is the ECS backend's private actor-directory row, stored in
// DynamoDB and keyed by browser_id. It is never exposed outside this
// package — the core only ever sees a placement.Handle.
type actorRecord struct {
	BrowserID string `dynamodbav:"browser_id"`
	TaskArn   string `dynamodbav:"task_arn"`
	Addr      string `dynamodbav:"addr"`
	State     string `dynamodbav:"state"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

func nowUnix() int64 {
	return time.Now().Unix()
}
