package oversight

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskScanSamples = "oversight:scan_samples"

type ScanPayload struct {
	CampaignID string   `json:"campaign_id"`
	Samples    []Sample `json:"samples"`
}

// EnqueueScan schedules an anomaly pass over a batch of freshly
// ingested engagement records.
func EnqueueScan(client *asynq.Client, payload ScanPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = client.Enqueue(asynq.NewTask(TaskScanSamples, b), asynq.Queue("low"))
	return err
}

func (s *Service) HandleScanTask(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid oversight scan payload", zap.Error(err))
		return err
	}

	zap.L().Info("running anomaly scan",
		zap.String("campaign_id", payload.CampaignID),
		zap.Int("samples", len(payload.Samples)),
	)

	return s.ScanSamples(ctx, payload.Samples)
}
