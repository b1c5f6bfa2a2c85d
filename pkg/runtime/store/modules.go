package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// ErrModuleTooLarge is returned when an uploaded artifact exceeds the limit.
var ErrModuleTooLarge = errors.New("module artifact exceeds size limit")

// ModuleDir manages <stateDir>/modules: artifacts named
// <name>-<version>.<ext> with detached signatures beside them named
// <name>-<version>.<ext>.<signer>.
type ModuleDir struct {
	root string
}

// NewModuleDir creates the directory if needed.
func NewModuleDir(root string) (*ModuleDir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create module directory: %w", err)
	}
	return &ModuleDir{root: root}, nil
}

// Root returns the directory path.
func (d *ModuleDir) Root() string { return d.root }

// Path returns the absolute location of an artifact or signature file.
func (d *ModuleDir) Path(fileName string) string {
	return filepath.Join(d.root, filepath.Base(fileName))
}

// Install copies r into the directory as fileName. A maxSize of 0 means
// unlimited. The artifact only appears under its final name once fully
// written.
func (d *ModuleDir) Install(r io.Reader, fileName string, maxSize int64) (string, error) {
	dest := d.Path(fileName)
	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write module %s: %w", fileName, err)
	}
	if maxSize > 0 && n > maxSize {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: %s is larger than %d bytes", ErrModuleTooLarge, fileName, maxSize)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("install module %s: %w", fileName, err)
	}
	return dest, nil
}

// Open opens an installed artifact for reading.
func (d *ModuleDir) Open(fileName string) (*os.File, error) {
	return os.Open(d.Path(fileName))
}

// SignaturePath returns the signature file name for signer.
func (d *ModuleDir) SignaturePath(fileName, signer string) string {
	return d.Path(fileName + "." + signer)
}

// WriteSignature stores a detached signature.
func (d *ModuleDir) WriteSignature(fileName, signer string, sig []byte) error {
	if err := os.WriteFile(d.SignaturePath(fileName, signer), sig, 0644); err != nil {
		return fmt.Errorf("write %s signature for %s: %w", signer, fileName, err)
	}
	return nil
}

// Signatures returns signer name -> signature file path for an artifact.
func (d *ModuleDir) Signatures(fileName string) (map[string]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read module directory: %w", err)
	}
	prefix := fileName + "."
	sigs := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		signer := strings.TrimPrefix(name, prefix)
		if signer == "" || strings.Contains(signer, ".") {
			continue
		}
		sigs[signer] = filepath.Join(d.root, name)
	}
	return sigs, nil
}

// Remove deletes an artifact and all of its signatures. Every file is
// attempted; the joined errors are returned.
func (d *ModuleDir) Remove(fileName string) error {
	sigs, err := d.Signatures(fileName)
	if err != nil {
		return err
	}

	var errs []error
	if err := os.Remove(d.Path(fileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	for _, path := range sigs {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scan lists artifacts whose names parse as modules. Other regular files,
// signatures excepted, are returned as skipped.
func (d *ModuleDir) Scan() (modules []models.ModuleFile, skipped []string, err error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, nil, fmt.Errorf("read module directory: %w", err)
	}

	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = struct{}{}
		}
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if mf, ok := models.ParseModuleFileName(name); ok && mf.FileName() == name {
			modules = append(modules, mf)
			continue
		}
		if base := strings.TrimSuffix(name, filepath.Ext(name)); base != name {
			if _, isSig := names[base]; isSig {
				continue
			}
		}
		skipped = append(skipped, name)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Name != modules[j].Name {
			return modules[i].Name < modules[j].Name
		}
		return modules[i].Version < modules[j].Version
	})
	return modules, skipped, nil
}
