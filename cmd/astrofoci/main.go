package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"astrofoci/pkg/config"
	"astrofoci/pkg/imageio"
	"astrofoci/pkg/pipeline"
	"astrofoci/pkg/segment"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the images to analyse")
	configPath := flag.String("config", "astrofoci.yaml", "YAML configuration file (defaults are used if it does not exist)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	outputDir := flag.String("output", "", "Results directory (default: <input>/Results)")
	ext := flag.String("ext", "", "Image extension to process (default: detected from the input directory)")
	nucleiCh := flag.String("nuclei", "", "Nuclei channel name or index")
	fociCh := flag.String("foci", "", "Oxytocin receptor channel name or index")
	cellsCh := flag.String("cells", "", "Astrocyte channel name or index")
	continueOnError := flag.Bool("continue", false, "Skip images that fail instead of aborting the batch")
	listChannels := flag.Bool("channels", false, "List the channels of the first image and exit")
	extractSlices := flag.Bool("extract-slices", false, "Save every overlay plane along all axes as PNG slices")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *nucleiCh != "" {
		cfg.Channels.Nuclei = *nucleiCh
	}
	if *fociCh != "" {
		cfg.Channels.Foci = *fociCh
	}
	if *cellsCh != "" {
		cfg.Channels.Cells = *cellsCh
	}
	if *continueOnError {
		cfg.Processing.ContinueOnError = true
	}
	if *extractSlices {
		cfg.Output.Slices = true
	}

	if *listChannels {
		printChannels(*inputDir, *ext)
		return
	}

	fmt.Println("================================")
	fmt.Println("OXYTOCIN RECEPTOR FOCI IN NUCLEUS-COLOCALIZED ASTROCYTES")
	fmt.Println("================================")

	cells, foci, err := pipeline.NewDetectors(cfg)
	if err != nil {
		if errors.Is(err, segment.ErrModelMissing) {
			log.Fatalf("Missing detector model: %v", err)
		}
		log.Fatalf("Failed to set up detectors: %v", err)
	}

	p, err := pipeline.New(&pipeline.Params{
		InputDir:  *inputDir,
		Extension: *ext,
		OutputDir: *outputDir,
		Config:    cfg,
	}, cells, foci)
	if err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	summary, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, imageio.ErrNoImages) {
			log.Fatalf("Nothing to do: %v", err)
		}
		if summary != nil {
			fmt.Printf("Stopped after %s\n", summary)
		}
		log.Fatalf("Analysis failed: %v", err)
	}

	fmt.Printf("\nAnalysis completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Run %s: %s\n", summary.RunID, summary)
	fmt.Printf("Results table: %s (%d rows)\n", summary.TablePath, summary.TableRows)
	if cfg.Output.SQLite {
		fmt.Printf("Run store: %d cell rows\n", summary.StoredRows)
	}
	if cfg.Output.Slices {
		fmt.Println("Overlay slices saved to <image>_slices/{x,y,z}")
	}
	fmt.Printf("Results saved to: %s\n", p.OutputDir())
}

func printChannels(dir, ext string) {
	if ext == "" {
		var err error
		if ext, err = imageio.FindImageType(dir); err != nil {
			log.Fatalf("Nothing to do: %v", err)
		}
	}
	images, err := imageio.FindImages(dir, ext)
	if err != nil {
		log.Fatalf("Nothing to do: %v", err)
	}
	img, err := imageio.Open(images[0])
	if err != nil {
		log.Fatalf("Failed to open %s: %v", images[0], err)
	}
	cal := img.Calibration()
	fmt.Printf("%s: %dx%dx%d, voxel %gx%gx%g %s\n", images[0], img.Header.Width, img.Header.Height, img.Header.Depth,
		cal.PixelWidth, cal.PixelHeight, cal.PixelDepth, cal.Unit)
	for i, name := range img.Channels() {
		fmt.Printf("  %d: %s\n", i, name)
	}
}
