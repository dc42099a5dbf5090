// Package generation composes the workflow-mapping pipeline: load
// configuration, mutate the graph, upload inputs, execute on the
// backend, and collect result artifacts.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oxomo030/comfyflow/internal/domain"
	"github.com/oxomo030/comfyflow/internal/mapping"
	"github.com/oxomo030/comfyflow/internal/workflow"
	"github.com/oxomo030/comfyflow/pkg/comfy"
)

// Orchestrator owns the two public operations, Generate and Edit. It
// translates component failures into request-level errors and
// guarantees the event channel is released on every exit path.
type Orchestrator struct {
	client        *comfy.Client
	configStore   domain.ConfigStore
	uploader      *AssetUploader
	collector     *ResultCollector
	uploadRetries int
	retryDelay    time.Duration
}

type OrchestratorDependencies struct {
	Client        *comfy.Client
	ConfigStore   domain.ConfigStore
	ImageStore    domain.ImageStore
	UploadRetries int
	RetryDelay    time.Duration
}

func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	retryDelay := deps.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &Orchestrator{
		client:      deps.Client,
		configStore: deps.ConfigStore,
		uploader: NewAssetUploader(AssetUploaderDependencies{
			Client:     deps.Client,
			ImageStore: deps.ImageStore,
		}),
		collector:     NewResultCollector(deps.Client),
		uploadRetries: deps.UploadRetries,
		retryDelay:    retryDelay,
	}
}

// Generate runs the stored generation workflow with the given request
// parameters and returns the resulting artifact URLs.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) ([]domain.Artifact, error) {
	params := domain.GenerationParameters{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Seed:           req.Seed,
		BatchCount:     req.BatchCount,
	}

	return o.run(ctx, domain.GenerationModeDefault, params, nil)
}

// Edit runs the stored edit workflow. Input images are uploaded to
// the backend before the graph is mutated so the mapper can inject
// backend asset names.
func (o *Orchestrator) Edit(ctx context.Context, req domain.EditRequest) ([]domain.Artifact, error) {
	params := domain.GenerationParameters{
		Prompt: req.Prompt,
		Model:  req.Model,
		Width:  req.Width,
		Height: req.Height,
	}

	return o.run(ctx, domain.GenerationModeEdit, params, req.Images)
}

func (o *Orchestrator) run(ctx context.Context, mode domain.GenerationMode, params domain.GenerationParameters, images []domain.ImageRef) ([]domain.Artifact, error) {
	cfg, err := o.configStore.GetWorkflowConfig(ctx, mode)
	if err != nil {
		var configErr *domain.ConfigError
		if !errors.As(err, &configErr) {
			err = &domain.ConfigError{Mode: mode, Reason: "loading configuration", Err: err}
		}
		return nil, o.wrap(mode, "", err)
	}

	doc, err := workflow.Parse([]byte(cfg.WorkflowJSON))
	if err != nil {
		return nil, o.wrap(mode, "", &domain.ConfigError{Mode: mode, Reason: "malformed workflow graph", Err: err})
	}

	if len(images) > 0 {
		params.Images, err = o.uploadAll(ctx, images)
		if err != nil {
			return nil, o.wrap(mode, "", err)
		}
	}

	if err := mapping.Apply(doc, cfg.MappingRules, params, mode); err != nil {
		return nil, o.wrap(mode, "", err)
	}

	session := domain.ExecutionSession{
		ClientSessionID: uuid.NewString(),
		State:           domain.ExecutionStateQueued,
	}

	promptID, err := o.client.QueuePrompt(ctx, session.ClientSessionID, doc)
	if err != nil {
		return nil, o.wrap(mode, "", toSubmissionError(err))
	}

	session.JobID = promptID
	session.SubmittedAt = time.Now()
	session.State = domain.ExecutionStateExecuting

	log.Info().
		Str("mode", string(mode)).
		Str("job_id", session.JobID).
		Str("client_id", session.ClientSessionID).
		Int("node_count", doc.Len()).
		Msg("Submitted workflow for execution")

	if err := o.client.WaitForCompletion(ctx, session.ClientSessionID, session.JobID); err != nil {
		session.State = domain.ExecutionStateFailed
		return nil, o.wrap(mode, session.JobID, err)
	}

	session.State = domain.ExecutionStateCompleted

	collected, err := o.collector.Collect(ctx, session.JobID)
	if err != nil {
		return nil, o.wrap(mode, session.JobID, err)
	}

	if len(collected) == 0 {
		return nil, o.wrap(mode, session.JobID, domain.ErrNoArtifacts)
	}

	artifacts := make([]domain.Artifact, 0, len(collected))
	for _, artifact := range collected {
		artifacts = append(artifacts, domain.Artifact{URL: artifact.URL})
	}

	log.Info().
		Str("mode", string(mode)).
		Str("job_id", session.JobID).
		Int("artifact_count", len(artifacts)).
		Dur("elapsed", time.Since(session.SubmittedAt)).
		Msg("Collected artifacts")

	return artifacts, nil
}

// uploadAll pushes every input image, retrying each transient upload
// failure a bounded number of times before surfacing it.
func (o *Orchestrator) uploadAll(ctx context.Context, images []domain.ImageRef) ([]string, error) {
	assetNames := make([]string, 0, len(images))

	for _, ref := range images {
		var (
			assetName string
			err       error
		)

		for attempt := 0; attempt <= o.uploadRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(o.retryDelay):
				}
			}

			assetName, err = o.uploader.Upload(ctx, ref)
			if err == nil {
				break
			}

			log.Warn().Err(err).Int("attempt", attempt+1).Msg("Image upload failed")
		}

		if err != nil {
			return nil, err
		}

		assetNames = append(assetNames, assetName)
	}

	return assetNames, nil
}

// wrap attaches request-level context to a component failure. Caller
// cancellation passes through so errors.Is(err, context.Canceled)
// still holds for the caller.
func (o *Orchestrator) wrap(mode domain.GenerationMode, jobID string, err error) error {
	if jobID != "" {
		return fmt.Errorf("%s request against %s (job %s): %w", mode, o.client.BaseURL(), jobID, err)
	}

	return fmt.Errorf("%s request against %s: %w", mode, o.client.BaseURL(), err)
}

// toSubmissionError classifies a queue failure. Backend rejections
// carry their detail; transport failures keep the underlying error.
func toSubmissionError(err error) error {
	var backendErr *comfy.Error
	if errors.As(err, &backendErr) {
		return &domain.SubmissionError{Detail: backendErr.Message, Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &domain.SubmissionError{Err: err}
}
