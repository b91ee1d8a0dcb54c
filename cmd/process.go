package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/neptune/internal/assets"
	"github.com/andresmejia3/neptune/internal/backend"
	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/engine"
	"github.com/andresmejia3/neptune/internal/sdk"
	"github.com/andresmejia3/neptune/internal/types"
	"github.com/andresmejia3/neptune/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Options holds the flags of the process command
type Options struct {
	InputPath            string
	OutputPath           string
	NumEngines           int
	MinFaceConfidence    float32
	MinEmotionConfidence float32
	ProcessingWidth      int
	ProcessingHeight     int
	MaxFaces             int
	EnableGPU            bool
	Quiet                bool
}

// resultSink persists finished images (implemented by *store.Store).
type resultSink interface {
	SaveResult(ctx context.Context, res types.ImageResult) (uuid.UUID, error)
}

var processOpts Options

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Detect faces, emotions and liveness in an image or a directory of images",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyEnvDefaults(cmd, &processOpts, Env)

		eng, err := backend.NewEngine(Env, Logger)
		if err != nil {
			return err
		}

		var sink resultSink
		db, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		if db != nil {
			sink = db
		}

		out := io.Writer(os.Stdout)
		if processOpts.OutputPath != "" && processOpts.OutputPath != "-" {
			f, err := os.Create(processOpts.OutputPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		return runProcess(cmd.Context(), Env, processOpts, eng, sink, out)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.InputPath, "input", "i", "", "Path to an image or a directory of images")
	processCmd.Flags().StringVarP(&processOpts.OutputPath, "output", "o", "-", "Where to write JSON lines results (- for stdout)")
	processCmd.Flags().IntVarP(&processOpts.NumEngines, "engines", "e", 1, "Number of parallel engine instances")
	processCmd.Flags().Float32Var(&processOpts.MinFaceConfidence, "min-face-confidence", config.DefaultMinFaceConfidence, "Face detection threshold [0,1]")
	processCmd.Flags().Float32Var(&processOpts.MinEmotionConfidence, "min-emotion-confidence", config.DefaultMinEmotionConfidence, "Emotion classification threshold [0,1]")
	processCmd.Flags().IntVar(&processOpts.ProcessingWidth, "width", config.DefaultProcessingWidth, "Internal processing width")
	processCmd.Flags().IntVar(&processOpts.ProcessingHeight, "height", config.DefaultProcessingHeight, "Internal processing height")
	processCmd.Flags().IntVar(&processOpts.MaxFaces, "max-faces", config.DefaultMaxFaces, "Maximum faces reported per image")
	processCmd.Flags().BoolVar(&processOpts.EnableGPU, "gpu", false, "Ask the engine to use a GPU delegate")
	processCmd.Flags().BoolVarP(&processOpts.Quiet, "quiet", "q", false, "Hide the progress bar")

	processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}

// applyEnvDefaults takes tuning values from the environment unless the flag was set explicitly.
func applyEnvDefaults(cmd *cobra.Command, opts *Options, env *config.Env) {
	flags := cmd.Flags()
	if !flags.Changed("min-face-confidence") {
		opts.MinFaceConfidence = env.MinFaceConfidence
	}
	if !flags.Changed("min-emotion-confidence") {
		opts.MinEmotionConfidence = env.MinEmotionConfidence
	}
	if !flags.Changed("width") {
		opts.ProcessingWidth = env.ProcessingWidth
	}
	if !flags.Changed("height") {
		opts.ProcessingHeight = env.ProcessingHeight
	}
	if !flags.Changed("max-faces") {
		opts.MaxFaces = env.MaxFaces
	}
	if !flags.Changed("gpu") {
		opts.EnableGPU = env.EnableGPU
	}
}

func newMaterializer(env *config.Env, logger *slog.Logger) *assets.Materializer {
	return assets.New(os.DirFS(env.ModelsSrc), assets.DefaultDir(env.ModelsDir), assets.WithLogger(logger))
}

// runProcess orchestrates image processing: SDK pool, decoding, ordered output and persistence.
func runProcess(ctx context.Context, env *config.Env, opts Options, eng engine.Engine, sink resultSink, out io.Writer) error {
	logger := Logger
	if logger == nil {
		logger = config.Discard()
	}
	if opts.NumEngines < 1 {
		return fmt.Errorf("engines must be at least 1, got %d", opts.NumEngines)
	}

	paths, err := utils.CollectImages(opts.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "🤷 No images found in %s\n", opts.InputPath)
		return nil
	}
	numEngines := opts.NumEngines
	if numEngines > len(paths) {
		numEngines = len(paths)
	}

	// 1. Build one SDK per engine. Staging happens once, on the first Build.
	fmt.Fprintf(os.Stderr, "⚙️  Starting %d Engine Instance(s)...\n", numEngines)
	materializer := newMaterializer(env, logger)
	instances := make([]*sdk.SDK, 0, numEngines)
	defer func() {
		for _, s := range instances {
			s.Release()
		}
	}()
	for i := 0; i < numEngines; i++ {
		s, err := sdk.NewBuilder(eng, materializer, sdk.WithLogger(logger)).
			MinFaceConfidence(opts.MinFaceConfidence).
			MinEmotionConfidence(opts.MinEmotionConfidence).
			ProcessingSize(opts.ProcessingWidth, opts.ProcessingHeight).
			MaxFaces(opts.MaxFaces).
			EnableGPU(opts.EnableGPU).
			Build(ctx)
		if err != nil {
			return fmt.Errorf("engine %d failed to start: %w", i, err)
		}
		instances = append(instances, s)
	}

	var bar *progressbar.ProgressBar
	if showProgress(env, opts) {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("🔍 Neptune Processing"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
	}

	taskChan := make(chan types.ImageTask, numEngines)
	resultsChan := make(chan types.ImageResult, numEngines*2)
	var wg sync.WaitGroup

	// 2. Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	var summary processSummary
	var aggErr error
	aggDone := make(chan struct{})
	go func() {
		summary, aggErr = collectResults(ctx, resultsChan, sink, out, bar, logger)
		close(aggDone)
	}()

	// 3. Start the SDK Pool
	for i, s := range instances {
		wg.Add(1)
		go func(workerID int, s *sdk.SDK) {
			defer wg.Done()
			startWorker(workerID, s, taskChan, resultsChan, logger)
		}(i, s)
	}

	// 4. Feed tasks until done or cancelled
feed:
	for i, p := range paths {
		select {
		case taskChan <- types.ImageTask{Index: i, Path: p}:
		case <-ctx.Done():
			break feed
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	// Wait for aggregator to finish processing
	<-aggDone

	if bar != nil {
		bar.Finish()
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Processing Complete. %d image(s), %d face(s), %d failure(s).\n",
		summary.Images, summary.Faces, summary.Failures)

	if aggErr != nil {
		return aggErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary.Failures > 0 {
		return fmt.Errorf("%d of %d image(s) failed", summary.Failures, summary.Images)
	}
	return nil
}

// startWorker drains tasks through one SDK instance. Per-image failures are
// reported in the result instead of stopping the pool.
func startWorker(id int, s *sdk.SDK, tasks <-chan types.ImageTask, results chan<- types.ImageResult, logger *slog.Logger) {
	for task := range tasks {
		res := types.ImageResult{Index: task.Index, Path: task.Path}
		start := time.Now()

		if imageID, err := utils.GenerateImageID(task.Path); err == nil {
			res.ImageID = imageID
		}

		img, err := decodeImage(task.Path)
		if err != nil {
			res.Err = err.Error()
		} else {
			b := img.Bounds()
			res.Width, res.Height = b.Dx(), b.Dy()
			faces, err := s.ProcessBitmap(img)
			if err != nil {
				res.Err = err.Error()
			}
			res.Faces = faces
		}
		if res.Faces == nil {
			res.Faces = []types.FaceResult{}
		}
		res.Elapsed = time.Since(start)
		res.Processed = time.Now()

		if res.Err != "" {
			logger.Warn("image failed", slog.Int("worker", id), slog.String("path", task.Path), slog.String("error", res.Err))
		}
		results <- res
	}
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

type processSummary struct {
	Images   int
	Faces    int
	Failures int
}

// collectResults writes results as JSON lines in input order, even though
// workers finish out of order.
func collectResults(ctx context.Context, results <-chan types.ImageResult, sink resultSink, out io.Writer, bar *progressbar.ProgressBar, logger *slog.Logger) (processSummary, error) {
	var summary processSummary
	var firstErr error
	buffer := make(map[int]types.ImageResult)
	next := 0
	enc := json.NewEncoder(out)

	for res := range results {
		buffer[res.Index] = res
		if bar != nil {
			bar.Add(1)
		}

		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			next++

			summary.Images++
			summary.Faces += len(r.Faces)
			if r.Err != "" {
				summary.Failures++
			}

			if firstErr != nil {
				// Keep draining so workers never block
				continue
			}
			if err := enc.Encode(r); err != nil {
				firstErr = fmt.Errorf("failed to write results: %w", err)
				continue
			}
			if sink != nil && r.Err == "" {
				runID, err := sink.SaveResult(ctx, r)
				if err != nil {
					firstErr = fmt.Errorf("failed to persist %s: %w", r.Path, err)
					continue
				}
				logger.Debug("run saved", slog.String("run_id", runID.String()), slog.String("path", r.Path))
			}
		}
	}
	return summary, firstErr
}

// showProgress keeps the bar off stderr when it carries JSON logs.
func showProgress(env *config.Env, opts Options) bool {
	return !opts.Quiet && !env.IsProduction()
}
