package collector

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ShupingR/tweener-portco-email-alert/internal/extract"
)

// writeAttachment stores attachment bytes under
// {attachments_dir}/{company_id}/{YYYYMMDD_HHMMSS}_{filename}. Messages with
// no resolved company land in "unsorted". Dry runs return the would-be path
// without touching disk.
func (c *Collector) writeAttachment(companyID int64, date time.Time, a extract.Attachment) (string, int64, error) {
	dir := "unsorted"
	if companyID > 0 {
		dir = strconv.FormatInt(companyID, 10)
	}
	name := date.UTC().Format("20060102_150405") + "_" + sanitizeFilename(a.Filename)
	path := filepath.Join(c.cfg.AttachmentsDir, dir, name)

	if c.DryRun {
		return path, int64(len(a.Data)), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, eris.Wrapf(err, "collector: create attachment dir for company %d", companyID)
	}
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", 0, eris.Wrapf(err, "collector: write attachment %s", name)
	}
	return path, int64(len(a.Data)), nil
}

// sanitizeFilename strips path components and characters that misbehave on
// common filesystems.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	replacer := strings.NewReplacer(":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	name = replacer.Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "attachment"
	}
	return name
}
