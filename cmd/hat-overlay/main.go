package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	hatoverlay "github.com/menta2k/hat-overlay"
	"github.com/menta2k/hat-overlay/internal/utils"
	"github.com/menta2k/hat-overlay/pkg/asset"
	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/compositor"
	"github.com/menta2k/hat-overlay/pkg/edit"
	"github.com/menta2k/hat-overlay/pkg/gemini"
	"github.com/menta2k/hat-overlay/pkg/ollama"
	"github.com/menta2k/hat-overlay/pkg/placement"
	"github.com/menta2k/hat-overlay/pkg/processing"
	"github.com/menta2k/hat-overlay/pkg/types"
)

type placementFile struct {
	Input     string          `json:"input"`
	Width     float64         `json:"width"`
	Height    float64         `json:"height"`
	Backend   string          `json:"backend"`
	Model     string          `json:"model,omitempty"`
	Placement types.Placement `json:"placement"`
	Output    string          `json:"output"`
}

func main() {
	var in, outDir, hat, backend, url, model, ext, prompt string
	var quality, sendSize, sendQ int
	var lossless, debug, doEdit bool
	var anchor float64

	flag.StringVar(&in, "in", "", "input photo path or URL (jpg/png/webp)")
	flag.StringVar(&outDir, "out", "out", "output directory")
	flag.StringVar(&hat, "hat", "public/assets/hat.png", "hat graphic path or URL")
	flag.StringVar(&backend, "backend", "gemini", "placement backend: gemini, ollama or none")
	flag.StringVar(&url, "url", "", "server URL (defaults: gemini=https://generativelanguage.googleapis.com, ollama=http://localhost:11434)")
	flag.StringVar(&model, "model", "", "placement model (defaults: gemini=gemini-2.5-flash, ollama=qwen2.5vl:7b)")

	flag.StringVar(&ext, "ext", "png", "output format: png|jpg|webp")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")

	flag.IntVar(&sendSize, "sendsize", 1536, "max long side sent to the model (px), 0=original")
	flag.IntVar(&sendQ, "sendq", 85, "JPEG quality for the image sent to the model (1-100)")

	flag.Float64Var(&anchor, "anchor", compositor.DefaultAnchorRatio, "fraction of the hat height above the placement point")
	flag.BoolVar(&debug, "debug", false, "write a debug overlay with the placement marked")
	flag.BoolVar(&doEdit, "edit", false, "ask the image model to blend the hat instead of rendering locally")
	flag.StringVar(&prompt, "prompt", "", "edit instruction (with -edit)")

	flag.Parse()
	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg|URL [-backend gemini|ollama|none] [-url server_url] [-hat hat.png] [-out outdir] [-ext png|jpg|webp] [-edit]", filepath.Base(os.Args[0]))
	}
	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal(err)
	}
	if err := checkInput(in); err != nil {
		log.Fatal(err)
	}
	_ = godotenv.Load()

	processor := processing.NewProcessor()

	data, mimeType, err := processor.LoadBytes(in)
	if err != nil {
		log.Fatal(err)
	}
	photo, err := processor.DecodeImage(data)
	if err != nil {
		log.Fatal(err)
	}
	b := photo.Bounds()
	req := types.CompositeRequest{
		Photo:    data,
		MimeType: mimeType,
		Width:    float64(b.Dx()),
		Height:   float64(b.Dy()),
	}

	visionClient, editor, model := setupBackend(backend, url, model, doEdit)

	pcfg := placement.DefaultConfig()
	pcfg.Model = model
	pcfg.SendMaxDim = sendSize
	pcfg.SendQuality = sendQ
	estimator := placement.NewWithConfig(visionClient, pcfg)

	var pipeline hatoverlay.Editor
	if editor != nil {
		pipeline = edit.New(editor, "")
	}
	ho := hatoverlay.NewWithConfig(estimator, asset.NewCache(hat),
		compositor.NewWithConfig(compositor.Config{AnchorRatio: anchor}), pipeline)

	ctx := context.Background()
	start := time.Now()

	var (
		p       types.Placement
		outPath string
	)
	if doEdit {
		res, placed, err := ho.EditWithHat(ctx, req, prompt)
		if err != nil {
			log.Fatalf("edit failed: %v", err)
		}
		p = placed
		outPath = utils.GenerateOutputFilename(in, outDir, "_edited", utils.ExtensionForMime(res.MimeType))
		if err := os.WriteFile(outPath, res.Image, 0o644); err != nil {
			log.Fatal(err)
		}
	} else {
		res, err := ho.Composite(ctx, req)
		if err != nil {
			log.Fatalf("composite failed: %v", err)
		}
		p = res.Placement
		outPath = utils.GenerateOutputFilename(in, outDir, "_hat", strings.ToLower(ext))
		if err := processor.SaveImage(res.Image, outPath, ext, quality, lossless); err != nil {
			log.Fatal(err)
		}
	}

	log.Printf("placement source=%s conf=%.2f center=%.1f,%.1f width=%.1f angle=%.1f (%s)",
		p.Source, p.Confidence, p.CenterX, p.CenterY, p.TargetWidth, p.RotationDegrees, time.Since(start).Round(time.Millisecond))
	if info, err := os.Stat(outPath); err == nil {
		log.Printf("wrote %s (%s)", outPath, utils.FormatFileSize(info.Size()))
	}

	if debug {
		dbg := processor.CreateDebugOverlay(photo, p)
		dbgPath := utils.GenerateOutputFilename(in, outDir, "_debug", "png")
		if err := processor.SaveImage(dbg, dbgPath, "png", quality, false); err != nil {
			log.Printf("debug overlay save failed: %v", err)
		} else {
			log.Printf("wrote %s", dbgPath)
		}
	}

	js, err := json.MarshalIndent(placementFile{
		Input:     in,
		Width:     req.Width,
		Height:    req.Height,
		Backend:   backend,
		Model:     model,
		Placement: p,
		Output:    outPath,
	}, "", "  ")
	if err != nil {
		log.Printf("placement.json encode failed: %v", err)
		return
	}
	jsPath := filepath.Join(outDir, "placement.json")
	if err := os.WriteFile(jsPath, js, 0o644); err != nil {
		log.Printf("placement.json save failed: %v", err)
	} else {
		log.Printf("wrote %s", jsPath)
	}
}

// checkInput rejects local paths that are missing or not an image; URLs are checked on download
func checkInput(in string) error {
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		return nil
	}
	path := strings.TrimPrefix(in, "file://")
	if !utils.FileExists(path) {
		return fmt.Errorf("input file not found: %s", path)
	}
	if !utils.IsImageFile(path) {
		return fmt.Errorf("input is not a supported image (jpg/png/gif/webp): %s", path)
	}
	return nil
}

// setupBackend returns the vision client for placement and, when editing,
// the Gemini image editor. Interfaces stay nil when a backend is absent.
func setupBackend(backend, url, model string, needEditor bool) (client.VisionClient, client.ImageEditor, string) {
	var (
		vc     client.VisionClient
		editor client.ImageEditor
		gc     *gemini.Client
	)

	if backend == "gemini" || needEditor {
		var err error
		gcURL := url
		if backend != "gemini" {
			gcURL = ""
		}
		gc, err = gemini.NewClient(gemini.Config{APIKey: os.Getenv("GEMINI_API_KEY"), BaseURL: gcURL})
		switch {
		case errors.Is(err, client.ErrNotConfigured):
			if needEditor {
				log.Fatal("GEMINI_API_KEY is required for -edit")
			}
			log.Printf("GEMINI_API_KEY not set, using fallback placement")
		case err != nil:
			log.Fatalf("Failed to create Gemini client: %v", err)
		default:
			editor = gc
		}
	}

	switch backend {
	case "gemini":
		if gc != nil {
			vc = gc
		}
		if model == "" {
			model = placement.DefaultConfig().Model
		}
	case "ollama":
		if url == "" {
			url = "http://localhost:11434"
		}
		oc, err := ollama.NewClient(url)
		if err != nil {
			log.Fatalf("Failed to create Ollama client: %v", err)
		}
		vc = oc
		if model == "" {
			model = "qwen2.5vl:7b"
		}
	case "none":
		model = ""
	default:
		log.Fatalf("Unknown backend: %s (use 'gemini', 'ollama' or 'none')\n", backend)
	}

	if !needEditor {
		editor = nil
	}
	return vc, editor, model
}
