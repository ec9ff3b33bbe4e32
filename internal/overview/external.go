package overview

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/apperr"
	"github.com/qbiolab/scribe/internal/storage"
)

// Source is one external content file keyed by date and suffix, e.g. a
// manually curated agenda dropped next to the generated summaries.
type Source struct {
	Name        string
	FileSuffix  string
	Description string
	Required    bool
}

// collectExternal reads the declared external content files for a date and
// renders them as prompt sections. A required source with no file aborts; an
// optional one is skipped silently.
func collectExternal(output *storage.Dir, date time.Time, sources []Source) (string, error) {
	var b strings.Builder
	for _, source := range sources {
		path := storage.DatedPath(date, source.FileSuffix)
		data, err := output.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if source.Required {
					return "", fmt.Errorf("overview: source %q (%s): %w",
						source.Name, path, apperr.ErrMissingRequiredContent)
				}
				continue
			}
			return "", err
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			if source.Required {
				return "", fmt.Errorf("overview: source %q (%s) is empty: %w",
					source.Name, path, apperr.ErrMissingRequiredContent)
			}
			continue
		}
		heading := source.Description
		if heading == "" {
			heading = source.Name
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", heading, content)
	}
	return b.String(), nil
}
