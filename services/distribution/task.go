package distribution

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskSyncCampaign = "distribution:sync_campaign"

type SyncPayload struct {
	CampaignID string `json:"campaign_id"`
}

// EnqueueSync schedules a payment reconciliation pass for one campaign.
// Deduplication is left to the controller's set-to-X semantics.
func EnqueueSync(client *asynq.Client, campaignID string) error {
	b, err := json.Marshal(SyncPayload{CampaignID: campaignID})
	if err != nil {
		return err
	}

	_, err = client.Enqueue(asynq.NewTask(TaskSyncCampaign, b), asynq.Queue("critical"))
	return err
}

func (c *Controller) HandleSyncTask(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid distribution sync payload", zap.Error(err))
		return err
	}

	zap.L().Info("reconciling reward pool", zap.String("campaign_id", payload.CampaignID))

	return c.SyncCampaign(ctx, payload.CampaignID)
}
