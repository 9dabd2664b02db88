// Package ecsrt implements the production Placement Runtime backend on top
// of AWS ECS/Fargate, EC2 ENIs, and a private DynamoDB actor directory,
// adapted from the teacher's ECS task-provisioning and session-monitoring
// code (CreateECSTask, StopECSTask, GetECSTaskPublicIP, monitorTaskStartup).
package ecsrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/operolabs/browserstation/internal/logging"
	"github.com/operolabs/browserstation/internal/placement"
)

// reconcileInterval and reconcileTimeout bound the async PENDING -> ALIVE
// polling loop, mirroring the teacher's monitorTaskStartup 1s/300-iteration
// budget.
const (
	reconcileInterval = time.Second
	reconcileTimeout  = 5 * time.Minute
	chromeDebugPort   = "9222"
)

// Config carries the ECS-backend-specific environment (§6).
type Config struct {
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	ActorsTable    string
	EventBus       string // optional
	ReadyTopicArn  string // optional
}

// Runtime is the ECS/Fargate-backed Placement Runtime.
type Runtime struct {
	cfg Config

	ecsClient *ecs.Client
	ec2Client *ec2.Client
	ddbClient *dynamodb.Client
	ebClient  *eventbridge.Client
	snsClient *sns.Client
}

// New constructs a Runtime from already-configured AWS SDK clients, so that
// callers (cmd/browserstation) own the aws.Config loading and credential
// resolution once at startup.
func New(cfg Config, ecsClient *ecs.Client, ec2Client *ec2.Client, ddbClient *dynamodb.Client, ebClient *eventbridge.Client, snsClient *sns.Client) *Runtime {
	return &Runtime{
		cfg:       cfg,
		ecsClient: ecsClient,
		ec2Client: ec2Client,
		ddbClient: ddbClient,
		ebClient:  ebClient,
		snsClient: snsClient,
	}
}

// Init verifies the configured ECS cluster is reachable and active.
func (r *Runtime) Init(ctx context.Context) error {
	out, err := r.ecsClient.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{r.cfg.Cluster},
	})
	if err != nil {
		return fmt.Errorf("ecsrt: describe cluster %q: %w", r.cfg.Cluster, err)
	}
	if len(out.Clusters) == 0 {
		return fmt.Errorf("ecsrt: cluster %q not found", r.cfg.Cluster)
	}
	return nil
}

// Healthy reports whether the ECS cluster still answers DescribeClusters.
func (r *Runtime) Healthy(ctx context.Context) bool {
	return r.Init(ctx) == nil
}

// CreateActor runs a new Fargate task, records a PENDING actor row, and
// starts a background reconciliation goroutine that resolves the task's
// public address (or, when it has none, its private address) and flips the
// row to ALIVE once Chrome is placed. cpus is not applied: the task's CPU
// size is the one in its task definition.
func (r *Runtime) CreateActor(ctx context.Context, name string, cpus float64) (placement.Handle, error) {
	out, err := r.ecsClient.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(r.cfg.Cluster),
		TaskDefinition: aws.String(r.cfg.TaskDefinition),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        r.cfg.Subnets,
				SecurityGroups: r.cfg.SecurityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{
				{
					Name: aws.String(r.cfg.ContainerName),
					Environment: []ecstypes.KeyValuePair{
						{Name: aws.String("BROWSER_ID"), Value: aws.String(name)},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ecsrt: run task: %w", err)
	}
	if len(out.Tasks) == 0 || out.Tasks[0].TaskArn == nil {
		return nil, fmt.Errorf("ecsrt: run task returned no task ARN")
	}
	taskArn := *out.Tasks[0].TaskArn

	record := actorRecord{
		BrowserID: name,
		TaskArn:   taskArn,
		State:     string(placement.StatePending),
		CreatedAt: nowUnix(),
	}
	if err := r.putRecord(ctx, record); err != nil {
		return nil, err
	}

	logging.ActorCreated(name, "")
	go r.reconcile(name, taskArn)

	return &handle{name: name, rt: r}, nil
}

// reconcile polls DescribeTasks + DescribeNetworkInterfaces until the task
// is RUNNING with a resolvable public or private IP, then flips the actor
// record to ALIVE with a real pod_addr. Grounded in the teacher's
// monitorTaskStartup polling loop.
func (r *Runtime) reconcile(name, taskArn string) {
	ctx := context.Background()
	deadline := time.Now().Add(reconcileTimeout)

	for time.Now().Before(deadline) {
		ip, running, err := r.resolveTaskAddr(ctx, taskArn)
		if err != nil {
			logging.ActorError(name, err.Error())
		} else if running && ip != "" {
			addr := ip + ":" + chromeDebugPort
			if err := r.updateAddr(ctx, name, addr, placement.StateAlive); err != nil {
				logging.ActorError(name, err.Error())
				return
			}
			logging.ActorReady(name, addr)
			r.publishLifecycleEvent(ctx, "ActorReady", name, addr)
			r.publishReadyNotification(ctx, name, addr)
			return
		}
		time.Sleep(reconcileInterval)
	}

	_ = r.updateAddr(ctx, name, "", placement.StateDead)
	logging.ActorError(name, "task never reached RUNNING with a resolvable address")
}

func (r *Runtime) resolveTaskAddr(ctx context.Context, taskArn string) (ip string, running bool, err error) {
	out, err := r.ecsClient.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(r.cfg.Cluster),
		Tasks:   []string{taskArn},
	})
	if err != nil {
		return "", false, fmt.Errorf("ecsrt: describe task: %w", err)
	}
	if len(out.Tasks) == 0 {
		return "", false, fmt.Errorf("ecsrt: task %s not found", taskArn)
	}
	task := out.Tasks[0]
	if task.LastStatus == nil || *task.LastStatus != "RUNNING" {
		return "", false, nil
	}

	var eniID string
	for _, att := range task.Attachments {
		for _, d := range att.Details {
			if d.Name != nil && *d.Name == "networkInterfaceId" && d.Value != nil {
				eniID = *d.Value
			}
		}
	}
	if eniID == "" {
		return "", true, nil
	}

	eniOut, err := r.ec2Client.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []string{eniID},
	})
	if err != nil {
		return "", true, fmt.Errorf("ecsrt: describe eni %s: %w", eniID, err)
	}
	if len(eniOut.NetworkInterfaces) == 0 {
		return "", true, nil
	}
	eni := eniOut.NetworkInterfaces[0]
	if eni.Association != nil && eni.Association.PublicIp != nil && *eni.Association.PublicIp != "" {
		return *eni.Association.PublicIp, true, nil
	}
	if eni.PrivateIpAddress != nil {
		return *eni.PrivateIpAddress, true, nil
	}
	return "", true, nil
}

// Lookup reads the actor row from the directory table.
func (r *Runtime) Lookup(ctx context.Context, name string) (placement.Handle, error) {
	_, err := r.getRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	return &handle{name: name, rt: r}, nil
}

// ListByState scans the directory for rows in the given state. A real
// deployment with a high actor count would back this with a GSI on state;
// the directory table here is small enough that a filtered scan is
// sufficient and keeps the schema to one key.
func (r *Runtime) ListByState(ctx context.Context, state placement.State) ([]placement.Descriptor, error) {
	out, err := r.ddbClient.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(r.cfg.ActorsTable),
		FilterExpression:          aws.String("#st = :st"),
		ExpressionAttributeNames:  map[string]string{"#st": "state"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{":st": &ddbtypes.AttributeValueMemberS{Value: string(state)}},
	})
	if err != nil {
		return nil, fmt.Errorf("ecsrt: scan actors table: %w", err)
	}

	var records []actorRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("ecsrt: unmarshal scan results: %w", err)
	}

	descs := make([]placement.Descriptor, 0, len(records))
	for _, rec := range records {
		descs = append(descs, placement.Descriptor{Name: rec.BrowserID, State: placement.State(rec.State)})
	}
	return descs, nil
}

// Kill stops the ECS task and removes the actor's directory row.
func (r *Runtime) Kill(ctx context.Context, name string) error {
	rec, err := r.getRecord(ctx, name)
	if err != nil {
		return err
	}

	if rec.TaskArn != "" {
		if _, err := r.ecsClient.StopTask(ctx, &ecs.StopTaskInput{
			Cluster: aws.String(r.cfg.Cluster),
			Task:    aws.String(rec.TaskArn),
		}); err != nil {
			return fmt.Errorf("ecsrt: stop task: %w", err)
		}
	}

	if _, err := r.ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.cfg.ActorsTable),
		Key:       map[string]ddbtypes.AttributeValue{"browser_id": &ddbtypes.AttributeValueMemberS{Value: name}},
	}); err != nil {
		return fmt.Errorf("ecsrt: delete actor row: %w", err)
	}

	logging.ActorTerminated(name)
	r.publishLifecycleEvent(ctx, "ActorTerminated", name, "")
	return nil
}

// ClusterResources reports the cluster's running/pending task counts as a
// stand-in for capacity — ECS does not expose a CPU-seconds-style quantity
// the way a scheduler with a fixed resource pool would, so task counts are
// the closest available signal to the original's cluster/available
// resource mapping.
func (r *Runtime) ClusterResources(ctx context.Context) (map[string]float64, map[string]float64, error) {
	out, err := r.ecsClient.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{r.cfg.Cluster},
	})
	if err != nil || len(out.Clusters) == 0 {
		return map[string]float64{}, map[string]float64{}, nil
	}
	c := out.Clusters[0]
	total := map[string]float64{
		"running_tasks": float64(c.RunningTasksCount),
		"pending_tasks": float64(c.PendingTasksCount),
	}
	available := map[string]float64{
		"running_tasks": float64(c.RunningTasksCount),
		"pending_tasks": float64(c.PendingTasksCount),
	}
	return total, available, nil
}

func (r *Runtime) putRecord(ctx context.Context, rec actorRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("ecsrt: marshal actor row: %w", err)
	}
	if _, err := r.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.cfg.ActorsTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("ecsrt: put actor row: %w", err)
	}
	return nil
}

func (r *Runtime) getRecord(ctx context.Context, name string) (actorRecord, error) {
	out, err := r.ddbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.cfg.ActorsTable),
		Key:       map[string]ddbtypes.AttributeValue{"browser_id": &ddbtypes.AttributeValueMemberS{Value: name}},
	})
	if err != nil {
		return actorRecord{}, fmt.Errorf("ecsrt: get actor row: %w", err)
	}
	if len(out.Item) == 0 {
		return actorRecord{}, placement.ErrNotFound
	}
	var rec actorRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return actorRecord{}, fmt.Errorf("ecsrt: unmarshal actor row: %w", err)
	}
	return rec, nil
}

func (r *Runtime) updateAddr(ctx context.Context, name, addr string, state placement.State) error {
	rec, err := r.getRecord(ctx, name)
	if err != nil {
		return err
	}
	rec.Addr = addr
	rec.State = string(state)
	return r.putRecord(ctx, rec)
}

func (r *Runtime) publishLifecycleEvent(ctx context.Context, kind, browserID, addr string) {
	if r.ebClient == nil || r.cfg.EventBus == "" {
		return
	}
	detail, err := json.Marshal(map[string]string{"browser_id": browserID, "addr": addr})
	if err != nil {
		return
	}
	_, err = r.ebClient.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{
			{
				Source:       aws.String("browserstation"),
				DetailType:   aws.String(kind),
				Detail:       aws.String(string(detail)),
				EventBusName: aws.String(r.cfg.EventBus),
			},
		},
	})
	if err != nil {
		logging.ActorError(browserID, fmt.Sprintf("publish lifecycle event: %v", err))
	}
}

func (r *Runtime) publishReadyNotification(ctx context.Context, browserID, addr string) {
	if r.snsClient == nil || r.cfg.ReadyTopicArn == "" {
		return
	}
	msg, err := json.Marshal(map[string]string{"browser_id": browserID, "addr": addr, "status": "ready"})
	if err != nil {
		return
	}
	_, err = r.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(r.cfg.ReadyTopicArn),
		Message:  aws.String(string(msg)),
	})
	if err != nil {
		logging.ActorError(browserID, fmt.Sprintf("publish ready notification: %v", err))
	}
}

type handle struct {
	name string
	rt   *Runtime
}

func (h *handle) Name() string { return h.name }

// Addr resolves the actor's current address from the directory table. ok is
// true only once the reconciliation loop has populated a real address;
// until then the actor is still PENDING and has none, consistent with the
// added testable property that an ECS actor never reports ALIVE with an
// empty address.
func (h *handle) Addr(ctx context.Context) (string, bool, error) {
	rec, err := h.rt.getRecord(ctx, h.name)
	if err != nil {
		return "", false, err
	}
	return rec.Addr, rec.Addr != "", nil
}

func (h *handle) State(ctx context.Context) (placement.State, error) {
	rec, err := h.rt.getRecord(ctx, h.name)
	if err != nil {
		return "", err
	}
	return placement.State(rec.State), nil
}
