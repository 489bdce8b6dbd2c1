package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/container"
	"github.com/beam-cloud/fpvosd/pkg/fontatlas"
	"github.com/beam-cloud/fpvosd/pkg/fpvosd"
	"github.com/beam-cloud/fpvosd/pkg/overlay"
)

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "Print the header and timing of a capture",
	ArgsUsage: "<file|s3://bucket/key|https://url>",
	Action: func(c *cli.Context) error {
		location, err := requireArg(c, "capture")
		if err != nil {
			return err
		}

		d, err := fpvosd.OpenDemuxer(context.Background(), location, cfg, &collector{})
		if err != nil {
			return err
		}
		defer d.Close()

		h := d.Index().Header
		fmt.Printf("file:         %s\n", location)
		fmt.Printf("header:       %d bytes, version %d\n", h.Length(), h.Version)
		fmt.Printf("grid:         %dx%d chars\n", h.Config.CharWidth, h.Config.CharHeight)
		fmt.Printf("glyph:        %dx%d px\n", h.Config.FontWidth, h.Config.FontHeight)
		fmt.Printf("offset:       %d,%d\n", h.Config.XOffset, h.Config.YOffset)
		fmt.Printf("font variant: %s\n", h.Config.FontVariant)
		fmt.Printf("records:      %d\n", d.Index().Len())
		fmt.Printf("duration:     %s\n", ticksToDuration(d.Duration()))
		fmt.Printf("truncated:    %t\n", d.Index().Truncated())
		if fields := h.Config.Mismatches(); len(fields) > 0 {
			fmt.Printf("mismatches:   %v\n", fields)
		}
		return nil
	},
}

var indexCommand = cli.Command{
	Name:      "index",
	Usage:     "List index entries",
	ArgsUsage: "<capture>",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "limit", Usage: "print at most this many entries (0 for all)"},
	},
	Action: func(c *cli.Context) error {
		location, err := requireArg(c, "capture")
		if err != nil {
			return err
		}

		d, err := fpvosd.OpenDemuxer(context.Background(), location, cfg, &collector{})
		if err != nil {
			return err
		}
		defer d.Close()

		limit := c.Int("limit")
		for i, e := range d.Index().Entries() {
			if limit > 0 && i >= limit {
				break
			}
			fmt.Printf("%6d  %12d  %12d  %s\n", e.Ordinal, e.Start, e.Stop, ticksToDuration(e.Start))
		}
		return nil
	},
}

var renderCommand = cli.Command{
	Name:      "render",
	Usage:     "Render the overlay on screen at a given time to PNG",
	ArgsUsage: "<capture>",
	Flags: []cli.Flag{
		cli.DurationFlag{Name: "at", Usage: "playback time"},
		cli.StringFlag{Name: "out, o", Value: "osd.png", Usage: "output file"},
		cli.IntFlag{Name: "width", Usage: "scale to this width"},
		cli.IntFlag{Name: "height", Usage: "scale to this height"},
	},
	Action: func(c *cli.Context) error {
		location, err := requireArg(c, "capture")
		if err != nil {
			return err
		}
		ctx := context.Background()

		track := &collector{}
		d, err := fpvosd.OpenDemuxer(ctx, location, cfg, track)
		if err != nil {
			return err
		}
		defer d.Close()

		at := durationToTicks(c.Duration("at"))
		if err := d.SeekToTime(at); err != nil {
			return fmt.Errorf("seek to %s: %w", c.Duration("at"), err)
		}
		d.SetNextTime(at)
		if _, err := d.Advance(ctx); err != nil {
			return err
		}
		if len(track.blocks) == 0 {
			return fmt.Errorf("no frame at %s", c.Duration("at"))
		}

		dec, err := fpvosd.OpenDecoder(ctx, d.Format(), cfg)
		if err != nil {
			return err
		}
		defer dec.Close()

		ov, err := dec.Decode(track.blocks[len(track.blocks)-1])
		if err != nil {
			return err
		}

		out := c.String("out")
		if err := writePNG(out, exportImage(ov, c.Int("width"), c.Int("height"))); err != nil {
			return err
		}
		log.Info().Str("out", out).Str("at", ticksToDuration(ov.Start).String()).Msg("rendered overlay")
		return nil
	},
}

var exportCommand = cli.Command{
	Name:      "export",
	Usage:     "Render every frame to a numbered PNG sequence",
	ArgsUsage: "<capture>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "out, o", Value: "frames", Usage: "output folder"},
		cli.IntFlag{Name: "every", Value: 1, Usage: "keep one frame in N"},
		cli.IntFlag{Name: "width", Usage: "scale to this width"},
		cli.IntFlag{Name: "height", Usage: "scale to this height"},
		cli.IntFlag{Name: "workers", Value: runtime.NumCPU(), Usage: "parallel encoders"},
	},
	Action: func(c *cli.Context) error {
		location, err := requireArg(c, "capture")
		if err != nil {
			return err
		}
		ctx := context.Background()

		track := &collector{}
		d, err := fpvosd.OpenDemuxer(ctx, location, cfg, track)
		if err != nil {
			return err
		}
		defer d.Close()

		// Hand the whole timeline to the scheduler in one step.
		d.SetNextTime(d.Duration())
		if _, err := d.Advance(ctx); err != nil {
			return err
		}

		dec, err := fpvosd.OpenDecoder(ctx, d.Format(), cfg)
		if err != nil {
			return err
		}
		defer dec.Close()

		outDir := c.String("out")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}

		every := c.Int("every")
		if every < 1 {
			every = 1
		}
		var blocks []*common.Block
		for i, b := range track.blocks {
			if i%every == 0 {
				blocks = append(blocks, b)
			}
		}

		bar := progressbar.NewOptions(len(blocks),
			progressbar.OptionSetDescription("exporting"),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))

		width, height := c.Int("width"), c.Int("height")
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.Int("workers"))
		for i, b := range blocks {
			i, b := i, b
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				ov, err := dec.Decode(b)
				if err != nil {
					return err
				}
				if ov == nil {
					return nil
				}
				name := filepath.Join(outDir, fmt.Sprintf("osd_%06d.png", i))
				if err := writePNG(name, exportImage(ov, width, height)); err != nil {
					return err
				}
				return bar.Add(1)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		_ = bar.Finish()

		log.Info().Int("frames", len(blocks)).Str("out", outDir).Msg("export complete")
		return nil
	},
}

var fontsCommand = cli.Command{
	Name:      "fonts",
	Usage:     "List the font variants available in a folder",
	ArgsUsage: "[folder]",
	Action: func(c *cli.Context) error {
		folder := c.Args().Get(0)
		if folder == "" {
			folder = cfg.FontFolder
		}

		found, err := fontatlas.Variants(folder)
		if err != nil {
			return err
		}

		present := make(map[common.FontVariant]bool, len(found))
		for _, v := range found {
			present[v] = true
		}
		for _, v := range common.FontVariants() {
			path, _ := fontatlas.Path(folder, v)
			mark := "-"
			if present[v] {
				mark = "ok"
			}
			fmt.Printf("%-3s %-12s %s\n", mark, v, path)
		}
		return nil
	},
}

var synthCommand = cli.Command{
	Name:      "synth",
	Usage:     "Write a synthetic capture with a running counter",
	ArgsUsage: "<out>",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "frames", Value: 600, Usage: "number of records"},
		cli.IntFlag{Name: "step", Value: 6, Usage: "frame counter increment per record"},
		cli.StringFlag{Name: "variant", Value: "betaflight", Usage: "font variant written to the header"},
		cli.BoolFlag{Name: "terminated", Usage: "write the 18 byte DVR header layout"},
	},
	Action: func(c *cli.Context) error {
		out, err := requireArg(c, "output file")
		if err != nil {
			return err
		}

		variant, err := common.ParseFontVariant(c.String("variant"))
		if err != nil {
			return err
		}

		gridCfg := common.DefaultGridConfig()
		gridCfg.FontVariant = variant
		header := common.NewHeader(gridCfg)
		if c.Bool("terminated") {
			header.Size = common.HeaderLengthTerminated
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		w := container.NewWriter(f, header)
		step := uint32(c.Int("step"))
		for i := 0; i < c.Int("frames"); i++ {
			grid := common.NewGrid()
			grid.SetString(2, 1, "FPVOSD")
			grid.SetString(2, 20, fmt.Sprintf("FRAME %06d", i))
			grid.SetString(45, 20, ticksToDuration(common.FrameStart(uint32(i)*step, common.DefaultTicksPerSecond, cfg.EffectiveFPS())).String())
			if err := w.WriteFrame(uint32(i)*step, grid); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		log.Info().Str("out", out).Int("records", w.Records()).Str("variant", variant.String()).Msg("wrote synthetic capture")
		return nil
	},
}

// collector is a Track that keeps every block it is sent.
type collector struct {
	blocks []*common.Block
	pcr    common.Ticks
}

func (t *collector) Send(b *common.Block) error {
	t.blocks = append(t.blocks, b)
	return nil
}

func (t *collector) SetClockReference(pcr common.Ticks) {
	t.pcr = pcr
}

func requireArg(c *cli.Context, what string) (string, error) {
	v := c.Args().Get(0)
	if v == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return v, nil
}

func exportImage(ov *overlay.Overlay, width, height int) image.Image {
	if width > 0 && height > 0 {
		return ov.Scale(width, height)
	}
	return ov.NRGBA()
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ticksToDuration(t common.Ticks) time.Duration {
	return time.Duration(float64(t) / float64(cfg.TicksPerSecond()) * float64(time.Second))
}

func durationToTicks(d time.Duration) common.Ticks {
	return common.Ticks(d.Seconds() * float64(cfg.TicksPerSecond()))
}
