// Package trainer orchestrates fine-tuning jobs: it validates the dataset,
// drives the job record through its lifecycle, delegates the actual
// training to a Strategy, and publishes the finished artifact to the
// model registry.
package trainer

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"diffusiond/internal/common/fsutil"
	"diffusiond/internal/config"
	"diffusiond/internal/jobstore"
	"diffusiond/internal/registry"
	"diffusiond/internal/storage"
	"diffusiond/pkg/types"
)

// Progress milestones. The strategy's step fraction is mapped onto the
// span between trainStartPct and trainEndPct; everything outside that span
// is fixed-cost setup and save work.
const (
	initPct       = 5
	preparePct    = 10
	loadPct       = 15
	trainStartPct = 40
	trainEndPct   = 90
)

// Orchestrator runs training jobs to completion.
type Orchestrator struct {
	jobs     *jobstore.Store
	st       *storage.Store
	reg      *registry.Registry
	strategy Strategy
	cfg      config.TrainingConfig
}

// New wires an Orchestrator. strategy of nil selects by cfg: the stub when
// no launcher binary is configured, otherwise LoRA or full per cfg.UseLoRA.
func New(jobs *jobstore.Store, st *storage.Store, reg *registry.Registry, strategy Strategy, cfg config.TrainingConfig) *Orchestrator {
	if strategy == nil {
		if cfg.TrainerBin == "" {
			log.Printf("trainer no trainer_bin configured, using stub strategy")
			strategy = &StubStrategy{}
		} else if cfg.UseLoRA {
			strategy = NewLoRAStrategy(cfg.TrainerBin)
		} else {
			strategy = NewFullFineTuneStrategy(cfg.TrainerBin)
		}
	}
	return &Orchestrator{jobs: jobs, st: st, reg: reg, strategy: strategy, cfg: cfg}
}

// Run executes one training job to a terminal state. It blocks until done;
// callers dispatch it on a goroutine. Every failure path lands in the job
// record, so Run never returns an error the job does not also carry.
func (o *Orchestrator) Run(ctx context.Context, trainingID, userID, modelID string) error {
	start := time.Now()
	jobsActive.Inc()
	defer jobsActive.Dec()

	fail := func(err error) error {
		log.Printf("trainer event=job_failed training_id=%q err=%v", trainingID, err)
		if uerr := o.jobs.Fail(trainingID, err.Error()); uerr != nil {
			log.Printf("trainer event=record_error training_id=%q err=%v", trainingID, uerr)
		}
		jobsTotal.WithLabelValues("failed").Inc()
		return err
	}

	o.update(trainingID, initPct, "Initializing training")

	ds, err := o.validateDataset(userID, modelID)
	if err != nil {
		return fail(err)
	}
	o.update(trainingID, preparePct, "Preparing dataset")

	hp := o.hyperparams(userID, modelID)
	o.update(trainingID, loadPct, fmt.Sprintf("Loading base model %s", hp.BaseModel))

	outDir, err := o.st.OutputModelDir(userID, modelID)
	if err != nil {
		return fail(err)
	}

	progress := func(frac float64, msg string) {
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
		pct := trainStartPct + int(frac*float64(trainEndPct-trainStartPct))
		o.update(trainingID, pct, msg)
	}

	log.Printf("trainer event=job_start training_id=%q method=%s images=%d", trainingID, o.strategy.Name(), ds.NumImages)
	if err := o.strategy.Run(ctx, ds, hp, outDir, progress); err != nil {
		return fail(err)
	}

	o.update(trainingID, trainEndPct, "Saving model")
	o.reg.Assign(userID, modelID)
	if err := o.jobs.Complete(trainingID, "Training completed"); err != nil {
		return fail(err)
	}
	jobsTotal.WithLabelValues("completed").Inc()
	jobDuration.Observe(time.Since(start).Seconds())
	log.Printf("trainer event=job_completed training_id=%q model=%q elapsed=%s", trainingID, modelID, time.Since(start).Round(time.Millisecond))
	return nil
}

func (o *Orchestrator) update(trainingID string, pct int, msg string) {
	if err := o.jobs.Update(trainingID, types.JobRunning, pct, msg); err != nil {
		log.Printf("trainer event=record_error training_id=%q err=%v", trainingID, err)
	}
}

// validateDataset checks the saved images against the configured bounds.
func (o *Orchestrator) validateDataset(userID, modelID string) (Dataset, error) {
	imagesDir := o.st.ImagesDir(userID, modelID)
	if !fsutil.PathExists(imagesDir) {
		return Dataset{}, &datasetError{reason: fmt.Sprintf("images directory missing: %s", imagesDir)}
	}
	n, err := o.st.CountImages(userID, modelID)
	if err != nil {
		return Dataset{}, &datasetError{reason: err.Error()}
	}
	if n < o.cfg.MinImages || n > o.cfg.MaxImages {
		return Dataset{}, &datasetError{
			reason: fmt.Sprintf("%d images, need between %d and %d", n, o.cfg.MinImages, o.cfg.MaxImages),
		}
	}
	return Dataset{
		ImagesDir:      imagesDir,
		NumImages:      n,
		InstanceToken:  modelID,
		InstancePrompt: modelID + " person",
		ClassPrompt:    "person",
	}, nil
}

// hyperparams resolves the run's knobs: config defaults overridden by
// whatever the upload recorded in metadata.
func (o *Orchestrator) hyperparams(userID, modelID string) Hyperparams {
	hp := Hyperparams{
		BaseModel:      o.cfg.BaseModel,
		NumTrainEpochs: o.cfg.NumTrainEpochs,
		LearningRate:   o.cfg.LearningRate,
		TrainBatchSize: o.cfg.TrainBatchSize,
		Resolution:     o.cfg.Resolution,
	}
	meta, err := o.st.ReadMetadata(filepath.Dir(o.st.MetadataPath(userID, modelID)))
	if err != nil {
		return hp
	}
	if meta.Custom.NumTrainEpochs > 0 {
		hp.NumTrainEpochs = meta.Custom.NumTrainEpochs
	}
	if meta.Custom.LearningRate > 0 {
		hp.LearningRate = meta.Custom.LearningRate
	}
	if meta.Custom.TrainBatchSize > 0 {
		hp.TrainBatchSize = meta.Custom.TrainBatchSize
	}
	return hp
}
