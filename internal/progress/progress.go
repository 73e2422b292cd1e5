// Package progress renders a terminal spinner while repositories are
// being synchronized. The listing is lazy, so the total number of
// repositories is unknown upfront and an indeterminate bar is used.
package progress

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

type Bar struct {
	bar *progressbar.ProgressBar
}

// New returns a spinner-style bar. All methods are safe to call on a
// nil *Bar, which is how quiet mode is implemented.
func New(description string) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}
