package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go-repub/internal/container"
	"go-repub/internal/ingest"
	"go-repub/internal/orchestrator"
	"go-repub/internal/service"
	"go-repub/internal/storage"
	"go-repub/pkg/models"
)

type processFlags struct {
	inDir        string
	inPDF        string
	out          string
	hocrOut      string
	textOut      string
	thumbOut     string
	pagenums     []int
	title        string
	crop         bool
	deskew       bool
	dewarp       bool
	ocr          bool
	gray         bool
	drawContours bool
	xmax         int
	ymax         int
	maxContours  int
	rotate       string
	reduce       float64
	language     string
	dpi          int
	review       bool
}

var procFlags processFlags

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one book from a directory of page images or a scanned PDF",
	Long: `Process one book in-process and write the assembled PDF.

Pages in --indir are ordered by the number in their file name. A .txt file
next to a page image is used as the expected text when scoring OCR. A
scandata.json in the directory rotates pages, drops color cards and marks
the cover the thumbnail is made from; metadata.xml and identifier.txt fill
the document properties.

Pages the consistency check flags are listed. Without --review the job is
finalized anyway with the automatic crops; with --review the command stops
after listing them.

Examples:
  repub process --indir scans/ --out book.pdf --crop --deskew
  repub process --inpdf scan.pdf --out book.pdf --crop --deskew --ocr --text book.txt
  repub process --indir scans/ --out book.pdf --crop --review
  repub process --indir scans/ --out book.pdf -p 1 -p 2 -p 3 -N thumb.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := procFlags
		if (f.inDir == "") == (f.inPDF == "") {
			return fmt.Errorf("exactly one of --indir or --inpdf is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if logLevel == "" {
			cfg.Log.Level = "warn"
		}
		cfg.Repository.Backend = "memory"
		cfg.OCR.Enabled = f.ocr

		workDir, err := os.MkdirTemp("", "repub-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)
		store, err := storage.NewLocalStore(workDir)
		if err != nil {
			return err
		}

		c, err := container.NewContainer(cmd.Context(), cfg, container.WithStore(store))
		if err != nil {
			return err
		}
		defer c.Close()

		return runProcess(cmd.Context(), c.JobService(), cmd.OutOrStdout(), f, f.options(cfg.Defaults))
	},
}

// options builds job options from the flags. Reconciliation thresholds
// come from the configuration.
func (f processFlags) options(defaults models.JobOptions) models.JobOptions {
	opts := defaults
	opts.Crop = f.crop
	opts.Deskew = f.deskew
	opts.Dewarp = f.dewarp
	opts.OCR = f.ocr
	opts.GrayOnly = f.gray
	opts.DrawContours = f.drawContours
	opts.RotateType = models.RotateType(f.rotate)
	opts.ReduceFactor = f.reduce
	opts.Language = f.language
	opts.DPI = f.dpi
	opts.ManualReview = false
	return opts.WithLineThresholds(f.xmax, f.ymax, f.maxContours)
}

func runProcess(ctx context.Context, svc service.JobService, out io.Writer, f processFlags, opts models.JobOptions) error {
	if len(f.pagenums) > 0 && f.inDir == "" {
		return fmt.Errorf("--pagenums applies to --indir only")
	}
	var (
		status *models.JobStatusResponse
		err    error
	)
	if f.inDir != "" {
		book, err := ingest.FromDirectory(f.inDir, f.pagenums)
		if err != nil {
			return err
		}
		status, err = svc.SubmitBook(ctx, f.title, &opts, book)
		if err != nil {
			return err
		}
	} else {
		data, err := os.ReadFile(f.inPDF)
		if err != nil {
			return err
		}
		status, err = svc.SubmitPDF(ctx, f.title, &opts, f.inPDF, data)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Job %s: %d pages\n", status.ID, len(status.Pages))

	if status, err = svc.Await(ctx, status.ID); err != nil {
		return err
	}
	if status.Status == models.StatusReviewing {
		printFlagged(out, status)
		if f.review {
			fmt.Fprintln(out, "Stopping for review; rerun without --review to finalize with the automatic crops")
			return nil
		}
		if _, err := svc.Finalize(ctx, status.ID); err != nil {
			return err
		}
		if status, err = svc.Await(ctx, status.ID); err != nil {
			return err
		}
	}
	if status.Status != models.StatusCompleted {
		return fmt.Errorf("job %s %s: %s", status.ID, status.Status, status.ErrorSummary)
	}

	outputs := []struct{ artifact, path string }{
		{orchestrator.ArtifactPDF, f.out},
		{orchestrator.ArtifactHOCR, f.hocrOut},
		{orchestrator.ArtifactText, f.textOut},
		{orchestrator.ArtifactThumbnail, f.thumbOut},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		data, _, err := svc.Output(ctx, status.ID, o.artifact)
		if err != nil {
			return fmt.Errorf("%s output: %w", o.artifact, err)
		}
		if err := os.WriteFile(o.path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", o.path)
	}

	for _, w := range status.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if status.DegradedPages > 0 {
		fmt.Fprintf(out, "%d pages have no text layer\n", status.DegradedPages)
	}
	return nil
}

func printFlagged(out io.Writer, status *models.JobStatusResponse) {
	for _, p := range status.Pages {
		if !p.NeedsReview {
			continue
		}
		reasons := make([]string, len(p.Reasons))
		for i, r := range p.Reasons {
			reasons[i] = string(r)
		}
		fmt.Fprintf(out, "page %d needs review: %s\n", p.Number, strings.Join(reasons, ", "))
	}
}

func init() {
	fl := processCmd.Flags()
	fl.StringVar(&procFlags.inDir, "indir", "", "directory of page images")
	fl.StringVar(&procFlags.inPDF, "inpdf", "", "scanned PDF to split into pages")
	fl.StringVar(&procFlags.out, "out", "", "output PDF path")
	fl.StringVar(&procFlags.hocrOut, "hocr", "", "write the gzip-compressed hOCR document to this path")
	fl.StringVar(&procFlags.textOut, "text", "", "write the recognized text to this path")
	fl.StringVarP(&procFlags.thumbOut, "thumbnail", "N", "", "write a JPEG thumbnail of the cover page to this path")
	fl.IntSliceVarP(&procFlags.pagenums, "pagenums", "p", nil, "process only these page numbers of --indir (repeat or comma-separate)")
	fl.StringVar(&procFlags.title, "title", "", "document title (defaults to the title in metadata.xml)")
	fl.BoolVar(&procFlags.crop, "crop", false, "crop pages to their content")
	fl.BoolVar(&procFlags.deskew, "deskew", false, "straighten skewed pages")
	fl.BoolVar(&procFlags.dewarp, "dewarp", false, "flatten curved text lines (requires --deskew)")
	fl.BoolVar(&procFlags.ocr, "ocr", false, "add a searchable text layer")
	fl.BoolVar(&procFlags.gray, "gray", false, "convert pages to grayscale")
	fl.BoolVar(&procFlags.drawContours, "draw-contours", false, "draw detected regions for debugging (incompatible with --ocr)")
	fl.IntVarP(&procFlags.xmax, "xmax", "x", 30, "noise threshold in pixels for thin regions and vertical border strips")
	fl.IntVarP(&procFlags.ymax, "ymax", "y", 60, "noise threshold in pixels for thin regions and horizontal border strips")
	fl.IntVarP(&procFlags.maxContours, "max-contours", "m", 5, "number of largest regions considered for the crop")
	fl.StringVarP(&procFlags.rotate, "rotate", "R", string(models.RotateVertical), "lines used for skew: vertical, horizontal or overall")
	fl.Float64VarP(&procFlags.reduce, "reduce", "r", 1.0, "scale factor applied to processed pages (0 < r <= 1)")
	fl.StringVarP(&procFlags.language, "language", "L", "eng", "OCR language")
	fl.IntVar(&procFlags.dpi, "dpi", 300, "resolution of the source scans")
	fl.BoolVar(&procFlags.review, "review", false, "stop after listing pages that need review")
	_ = processCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(processCmd)
}
