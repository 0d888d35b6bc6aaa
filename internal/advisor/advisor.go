// Package advisor tracks which session most recently touched which file
// path and warns a session before it edits a file another session touched
// recently. The mechanism is advisory only: a warning never blocks an
// edit, it only surfaces information for the calling session to act on.
package advisor

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/crowdwork/workq/internal/logging"
	"github.com/crowdwork/workq/internal/statefile"
)

// DocumentName is the file-conflict document's file name within the state
// directory.
const DocumentName = "files.json"

// DefaultRecencyWindow is how recently another session must have edited a
// path for Check to warn.
const DefaultRecencyWindow = 10 * time.Minute

// Record remembers the most recent editor of one path. Records are
// upserted on every edit and never explicitly deleted; newer edits simply
// overwrite them.
type Record struct {
	LastEditor   string    `json:"last_editor"`
	LastEditedAt time.Time `json:"last_edited_at"`
}

// Document is the persisted file-conflict state, keyed by project-relative
// slash-separated path.
type Document struct {
	Files map[string]Record `json:"files"`
}

// Advisor exposes the conflict-check operations over the shared document.
type Advisor struct {
	doc     *statefile.Store[Document]
	recency time.Duration
	logger  *logging.Logger
}

// NewAdvisor creates an Advisor backed by {stateDir}/files.json. A
// non-positive recency selects DefaultRecencyWindow.
func NewAdvisor(stateDir string, recency time.Duration, logger *logging.Logger, opts ...statefile.Option) *Advisor {
	if recency <= 0 {
		recency = DefaultRecencyWindow
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts = append(opts, statefile.WithLogger(logger))
	return &Advisor{
		doc:     statefile.New[Document](filepath.Join(stateDir, DocumentName), opts...),
		recency: recency,
		logger:  logger.WithStore("files"),
	}
}

// normalize converts a path to the canonical slash-separated form used as
// the document key.
func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// RecordEdit upserts the record for path, naming the session as its most
// recent editor.
func (a *Advisor) RecordEdit(path, sessionTag string) error {
	key := normalize(path)
	err := a.doc.Update(func(d *Document) error {
		if d.Files == nil {
			d.Files = make(map[string]Record)
		}
		d.Files[key] = Record{
			LastEditor:   sessionTag,
			LastEditedAt: time.Now(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Debug("edit recorded", "path", key, "session_tag", sessionTag)
	return nil
}

// Check returns a warning naming the other session when path was edited
// by a different session within the recency window, or "" when the edit
// is unconflicted. Pure read: no lock is taken.
func (a *Advisor) Check(path, sessionTag string) (string, error) {
	d, err := a.doc.Load()
	if err != nil {
		return "", err
	}

	rec, ok := d.Files[normalize(path)]
	if !ok || rec.LastEditor == sessionTag {
		return "", nil
	}

	age := time.Since(rec.LastEditedAt)
	if age > a.recency {
		return "", nil
	}

	return fmt.Sprintf("%s was edited by session %s %s ago",
		normalize(path), rec.LastEditor, age.Round(time.Second)), nil
}
