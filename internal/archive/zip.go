/**
 * Archive reader for batch uploads
 *
 * Two layouts are accepted:
 * - paired: one folder per label holding the image and application.json,
 *   or root-level files paired by stem (a.png + a.json)
 * - flat: every image is a label, verified against one shared application
 *
 * Entries come back in order of first appearance. Hidden files and macOS
 * resource forks are ignored. Entry count and total uncompressed size are
 * capped so a crafted archive cannot exhaust memory.
 */

package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

// Entry is one label and, in paired mode, its application descriptor
type Entry struct {
	Folder          string
	LabelName       string
	Label           []byte // nil when the folder has no image
	ApplicationName string
	Application     []byte // nil when absent or in flat mode
}

// Limits bound what an archive may expand to
type Limits struct {
	MaxEntries    int
	MaxTotalBytes int64
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{MaxEntries: 5000, MaxTotalBytes: 256 << 20}
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// IsImageName reports whether name has a supported label image extension
func IsImageName(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

func isJSONName(name string) bool {
	return strings.ToLower(path.Ext(name)) == ".json"
}

type member struct {
	name string // cleaned, slash separated
	file *zip.File
}

type reader struct {
	limits    Limits
	remaining int64
}

// open lists the usable members of the archive
func open(data []byte, limits Limits) ([]member, *reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		ve := apperrors.NewValidationError("archive", "not a readable zip archive")
		ve.Cause = err
		return nil, nil, ve
	}

	var members []member
	var declared uint64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		if ignored(name) {
			continue
		}
		if !IsImageName(name) && !isJSONName(name) {
			continue
		}
		members = append(members, member{name: strings.TrimPrefix(name, "/"), file: f})
		declared += f.UncompressedSize64

		if limits.MaxEntries > 0 && len(members) > limits.MaxEntries {
			return nil, nil, apperrors.NewValidationError("archive",
				fmt.Sprintf("archive holds more than %d files", limits.MaxEntries))
		}
		if limits.MaxTotalBytes > 0 && declared > uint64(limits.MaxTotalBytes) {
			return nil, nil, apperrors.NewValidationError("archive",
				fmt.Sprintf("archive expands to more than %d bytes", limits.MaxTotalBytes))
		}
	}
	return members, &reader{limits: limits, remaining: limits.MaxTotalBytes}, nil
}

func ignored(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// read decompresses one member, enforcing the byte budget on what is actually
// inflated rather than on the sizes the headers claim.
func (r *reader) read(m member) ([]byte, error) {
	rc, err := m.file.Open()
	if err != nil {
		ve := apperrors.NewValidationError("archive", fmt.Sprintf("cannot open %s", m.name))
		ve.Cause = err
		return nil, ve
	}
	defer rc.Close()

	var src io.Reader = rc
	if r.limits.MaxTotalBytes > 0 {
		src = io.LimitReader(rc, r.remaining+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		ve := apperrors.NewValidationError("archive", fmt.Sprintf("cannot read %s", m.name))
		ve.Cause = err
		return nil, ve
	}
	if r.limits.MaxTotalBytes > 0 {
		r.remaining -= int64(len(data))
		if r.remaining < 0 {
			return nil, apperrors.NewValidationError("archive",
				fmt.Sprintf("archive expands to more than %d bytes", r.limits.MaxTotalBytes))
		}
	}
	return data, nil
}

type group struct {
	folder string
	images []member
	jsons  []member
}

// ReadPairs reads a paired-mode archive
func ReadPairs(data []byte, limits Limits) ([]Entry, error) {
	members, r, err := open(data, limits)
	if err != nil {
		return nil, err
	}

	var order []string
	groups := make(map[string]*group)
	add := func(key, folder string, m member) {
		g, ok := groups[key]
		if !ok {
			g = &group{folder: folder}
			groups[key] = g
			order = append(order, key)
		}
		if IsImageName(m.name) {
			g.images = append(g.images, m)
		} else {
			g.jsons = append(g.jsons, m)
		}
	}

	for _, m := range members {
		dir := path.Dir(m.name)
		if dir == "." {
			stem := strings.TrimSuffix(m.name, path.Ext(m.name))
			add("\x00"+stem, stem, m)
			continue
		}
		add(dir, dir, m)
	}

	entries := make([]Entry, 0, len(order))
	for _, key := range order {
		g := groups[key]
		entry := Entry{Folder: g.folder}

		if label, ok := pickLabel(g.images); ok {
			entry.LabelName = path.Base(label.name)
			if entry.Label, err = r.read(label); err != nil {
				return nil, err
			}
		}
		if app, ok := pickApplication(g.jsons); ok {
			entry.ApplicationName = path.Base(app.name)
			if entry.Application, err = r.read(app); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReadLabels reads a flat-mode archive: one entry per image
func ReadLabels(data []byte, limits Limits) ([]Entry, error) {
	members, r, err := open(data, limits)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, m := range members {
		if !IsImageName(m.name) {
			continue
		}
		label, err := r.read(m)
		if err != nil {
			return nil, err
		}
		folder := path.Dir(m.name)
		if folder == "." {
			folder = ""
		}
		entries = append(entries, Entry{Folder: folder, LabelName: path.Base(m.name), Label: label})
	}
	return entries, nil
}

// pickLabel prefers an image with "label" in its name
func pickLabel(images []member) (member, bool) {
	if len(images) == 0 {
		return member{}, false
	}
	for _, m := range images {
		if strings.Contains(strings.ToLower(path.Base(m.name)), "label") {
			return m, true
		}
	}
	return images[0], true
}

// pickApplication takes application.json, else the folder's only JSON file
func pickApplication(jsons []member) (member, bool) {
	for _, m := range jsons {
		if strings.EqualFold(path.Base(m.name), "application.json") {
			return m, true
		}
	}
	if len(jsons) == 1 {
		return jsons[0], true
	}
	return member{}, false
}
