package workbook

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Container is an xlsx archive opened for selective rewrite. Parts that are
// never written stay as raw deflate streams and are copied bit-for-bit into
// the output, so the only bytes that change are the parts staged through
// WriteText.
type Container struct {
	reader    *zip.Reader
	overrides map[string]string
}

// OpenContainer loads an xlsx archive into memory.
func OpenContainer(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read xlsx %s: %w", path, err)
	}
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, path, err)
	}
	return &Container{
		reader:    reader,
		overrides: map[string]string{},
	}, nil
}

// ReadText returns the text of an archive part, honoring staged overrides.
func (c *Container) ReadText(name string) (string, error) {
	clean, err := cleanPartName(name)
	if err != nil {
		return "", err
	}
	if text, ok := c.overrides[clean]; ok {
		return text, nil
	}
	for _, f := range c.reader.File {
		if f.Name == clean {
			rc, err := f.Open()
			if err != nil {
				return "", fmt.Errorf("failed to open part %s: %w", clean, err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return "", fmt.Errorf("failed to read part %s: %w", clean, err)
			}
			return string(data), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPartNotFound, clean)
}

// HasPart reports whether a part exists in the archive or the overrides.
func (c *Container) HasPart(name string) bool {
	clean, err := cleanPartName(name)
	if err != nil {
		return false
	}
	if _, ok := c.overrides[clean]; ok {
		return true
	}
	for _, f := range c.reader.File {
		if f.Name == clean {
			return true
		}
	}
	return false
}

// WriteText stages new text for a part. The archive itself is untouched
// until SaveTo.
func (c *Container) WriteText(name, content string) error {
	clean, err := cleanPartName(name)
	if err != nil {
		return err
	}
	c.overrides[clean] = content
	return nil
}

// SaveTo writes the archive. Overridden parts are re-deflated; every other
// entry is copied raw, preserving its compressed bytes and header fields.
func (c *Container) SaveTo(w io.Writer) error {
	zw := zip.NewWriter(w)
	written := make(map[string]bool, len(c.overrides))
	for _, f := range c.reader.File {
		if text, ok := c.overrides[f.Name]; ok {
			header := f.FileHeader
			header.Method = zip.Deflate
			ew, err := zw.CreateHeader(&header)
			if err != nil {
				return fmt.Errorf("failed to create entry %s: %w", f.Name, err)
			}
			if _, err := io.WriteString(ew, text); err != nil {
				return fmt.Errorf("failed to write entry %s: %w", f.Name, err)
			}
			written[f.Name] = true
			continue
		}
		raw, err := f.OpenRaw()
		if err != nil {
			return fmt.Errorf("failed to open raw entry %s: %w", f.Name, err)
		}
		header := f.FileHeader
		ew, err := zw.CreateRaw(&header)
		if err != nil {
			return fmt.Errorf("failed to create raw entry %s: %w", f.Name, err)
		}
		if _, err := io.Copy(ew, raw); err != nil {
			return fmt.Errorf("failed to copy raw entry %s: %w", f.Name, err)
		}
	}
	for name, text := range c.overrides {
		if written[name] {
			continue
		}
		ew, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("failed to create entry %s: %w", name, err)
		}
		if _, err := io.WriteString(ew, text); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// cleanPartName normalizes a slash-separated part name and rejects path
// escapes.
func cleanPartName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty part name", ErrInvalidFormat)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute part name %q", ErrInvalidFormat, name)
	}
	var parts []string
	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "", ".":
		case "..":
			return "", fmt.Errorf("%w: parent traversal in part name %q", ErrInvalidFormat, name)
		default:
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty part name %q", ErrInvalidFormat, name)
	}
	return strings.Join(parts, "/"), nil
}
