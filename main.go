package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/b0tShaman/neuro-cast/config"
	"github.com/b0tShaman/neuro-cast/data"
	"github.com/b0tShaman/neuro-cast/ml"
	"github.com/b0tShaman/neuro-cast/search"
	"github.com/b0tShaman/neuro-cast/storage"
	"github.com/cheggaaa/pb/v3"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type options struct {
	configPath string
	dataRoot   string
	modelPath  string
	skipSearch bool
	resume     bool
}

// -------- MAIN -------- //
func main() {
	parser := argparse.NewParser("neuro-cast", "EEG segment forecasting")
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML run description. Defaults apply when omitted."})
	dataRoot := parser.String("d", "data", &argparse.Options{Help: "Dataset root, overrides data.layout.root."})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Checkpoint path, overrides training.model_path."})
	skipSearch := parser.Flag("s", "skip-search", &argparse.Options{Help: "Train the first grid combination without searching."})
	resume := parser.Flag("r", "resume", &argparse.Options{Help: "Warm-start the final run from an existing checkpoint."})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	opts := options{
		configPath: *configPath,
		dataRoot:   *dataRoot,
		modelPath:  *modelPath,
		skipSearch: *skipSearch,
		resume:     *resume,
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal(err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Interrupted")
			os.Exit(130)
		}
		log.Fatal(err)
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.dataRoot != "" {
		cfg.Data.Layout.Root = opts.dataRoot
	}
	if opts.modelPath != "" {
		cfg.Training.ModelPath = opts.modelPath
	}
	return cfg, cfg.Validate()
}

// splits holds one loader per partition; test is nil without test subjects.
type splits struct {
	train, val, test *data.Loader
}

func run(ctx context.Context, cfg config.Config, opts options, log *logrus.Logger) error {
	// 1. Load Data
	sp, err := loadSplits(cfg, log)
	if err != nil {
		return err
	}

	dev, err := ml.SelectDevice(ml.DeviceKind(cfg.Training.Device), cfg.Training.Workers, log)
	if err != nil {
		return err
	}
	netCfg := cfg.NetworkConfig()
	trainCfg := cfg.TrainingConfig()
	trainCfg.Logger = log

	// Search trials overwrite the checkpoint, so read it first.
	var warm *ml.Forecaster
	if opts.resume {
		warm = loadWarmStart(trainCfg.ModelPath, log)
	}

	// 2. Hyperparameter Search
	combos, err := search.Combine(cfg.Training.Grid)
	if err != nil {
		return err
	}
	best, bestIndex := combos[0], 0
	if opts.skipSearch {
		log.WithField("combination", best.String()).Info("Skipping search")
	} else {
		best, bestIndex, err = runSearch(ctx, cfg, combos, dev, sp, trainCfg, log)
		if err != nil {
			return err
		}
	}
	hp, err := search.HyperParamsOf(best)
	if err != nil {
		return err
	}

	// 3. Final Training
	// Same initial weights and batch order as the winning trial.
	sp.train.Reseed(cfg.Training.Seed, uint64(bestIndex))
	nw := ml.NewForecaster(netCfg, rand.New(rand.NewPCG(cfg.Training.Seed, uint64(bestIndex))))
	if warm != nil {
		if warm.Config == nw.Config {
			log.Info("Resuming from checkpoint weights")
			nw = warm
		} else {
			log.WithField("checkpoint", warm.Config).Warn("Model mismatch. Starting training from scratch.")
		}
	}
	log.WithFields(logrus.Fields{
		"combination":     best.String(),
		"receptive_field": netCfg.ReceptiveField(),
		"epochs":          cfg.Training.FinalEpochs,
	}).Info("Final training")
	if _, _, err := ml.TrainValidate(ctx, nw, dev, hp, cfg.Training.FinalEpochs, sp.train, sp.val, trainCfg); err != nil {
		return err
	}

	// 4. Test
	if sp.test == nil {
		log.Info("No test subjects configured")
		return nil
	}
	testLoss, err := ml.Evaluate(ctx, nw, dev, sp.test, trainCfg.Loss)
	if err != nil {
		return fmt.Errorf("test split: %w", err)
	}
	log.WithField("test_loss", testLoss).Info("Test evaluation")

	if cfg.OutputDir != "" {
		return writeForecasts(cfg, nw, dev, sp.test.Dataset(), log)
	}
	return nil
}

func loadWarmStart(path string, log *logrus.Logger) *ml.Forecaster {
	if _, err := os.Stat(path); err != nil {
		log.WithField("path", path).Info("No checkpoint to resume from")
		return nil
	}
	log.WithField("path", path).Info("Found existing model. Loading weights...")
	nw, err := ml.LoadForecaster(path)
	if err != nil {
		log.WithError(err).Warn("Cannot load model. Starting training from scratch.")
		return nil
	}
	return nw
}

func loadSplits(cfg config.Config, log *logrus.Logger) (splits, error) {
	norm, err := data.ParseNormalization(cfg.Data.Normalize)
	if err != nil {
		return splits{}, err
	}
	extract := cfg.ExtractOptions()
	extract.Logger = log

	build := func(name string, subjects []int, shuffle bool) (*data.Loader, error) {
		if len(subjects) == 0 {
			return nil, nil
		}
		bar := pb.StartNew(len(subjects))
		bar.Set("prefix", name+" ")
		pairs, err := data.BuildSplit(cfg.Data.Layout, subjects, extract, func(subject, n int) {
			log.WithFields(logrus.Fields{"split": name, "subject": subject, "pairs": n}).Debug("Extracted subject")
			bar.Increment()
		})
		bar.Finish()
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", name, err)
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("%s split: no window pairs extracted", name)
		}
		ds, err := data.NewDataset(pairs, norm)
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", name, err)
		}
		log.WithFields(logrus.Fields{"split": name, "subjects": len(subjects), "pairs": ds.Len()}).Info("Loaded split")
		return data.NewLoader(ds, cfg.LoaderConfig(shuffle)), nil
	}

	var sp splits
	if sp.train, err = build(data.SplitTrain, cfg.Data.Split.Train, true); err != nil {
		return splits{}, err
	}
	if sp.val, err = build(data.SplitValidation, cfg.Data.Split.Validation, false); err != nil {
		return splits{}, err
	}
	if sp.test, err = build(data.SplitTest, cfg.Data.Split.Test, false); err != nil {
		return splits{}, err
	}
	return sp, nil
}

func runSearch(ctx context.Context, cfg config.Config, combos []search.Combination, dev ml.Device, sp splits,
	trainCfg ml.TrainingConfig, log *logrus.Logger) (search.Combination, int, error) {
	store, err := storage.NewStore(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return search.Combination{}, 0, err
	}
	defer func() {
		if err := storage.CloseIfSupported(store); err != nil {
			log.WithError(err).Warn("close store")
		}
	}()
	if err := store.Init(ctx); err != nil {
		return search.Combination{}, 0, fmt.Errorf("init store: %w", err)
	}

	trainer := search.ModelTrainer{
		Network:   cfg.NetworkConfig(),
		Seed:      cfg.Training.Seed,
		Device:    dev,
		TrainData: sp.train,
		ValData:   sp.val,
		Epochs:    cfg.Training.SearchEpochs,
		Config:    trainCfg,
	}
	s := &search.Search{Logger: log, Store: store}
	res, err := s.Run(ctx, combos, trainer)
	if err != nil {
		return search.Combination{}, 0, err
	}
	log.WithFields(logrus.Fields{"run": res.RunID, "winner": res.Winner.String()}).Info("Selected hyperparameters")
	return res.Winner, res.WinnerIndex, nil
}

// writeForecasts stores one forecast per test window as <subject>_<run>_<onset>.npy,
// expanded back to signal amplitude when the windows were companded.
func writeForecasts(cfg config.Config, nw *ml.Forecaster, dev ml.Device, ds *data.Dataset, log *logrus.Logger) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}
	windows := make([]*mat.Dense, ds.Len())
	for i := range windows {
		windows[i], _ = ds.Get(i)
	}
	forecasts := ml.ForecastAll(nw, dev, windows)

	bar := pb.StartNew(len(forecasts))
	bar.Set("prefix", "forecasts ")
	defer bar.Finish()
	for i, f := range forecasts {
		if cfg.Data.Compress {
			data.ExpandInPlace(f)
		}
		p := ds.Pair(i)
		name := filepath.Join(cfg.OutputDir, fmt.Sprintf("sub-%02d_run-%d_onset-%d.npy", p.Subject, p.Run, p.OnsetSample))
		if err := data.SaveRecording(name, f); err != nil {
			return fmt.Errorf("write forecast %s: %w", name, err)
		}
		bar.Increment()
	}
	log.WithFields(logrus.Fields{"dir": cfg.OutputDir, "count": len(forecasts)}).Info("Wrote forecasts")
	return nil
}
