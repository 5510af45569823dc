package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"labdash/cmd/security/sealing"
)

const fileDocVersion = 1

// FileArea persists a pair as a single file, sealed when a Sealer is configured.
//
// Writes go to a temp file in the same directory and are renamed into place, so a
// reader never observes a partially written document.
type FileArea struct {
	path   string
	sealer *sealing.Sealer
}

type fileDoc struct {
	V            int       `json:"v"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SavedAt      time.Time `json:"saved_at"`
}

// NewFileArea returns a file-backed area. A nil sealer stores plaintext JSON.
func NewFileArea(path string, sealer *sealing.Sealer) (*FileArea, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credential: empty file path")
	}
	return &FileArea{path: filepath.Clean(path), sealer: sealer}, nil
}

// Sealed reports whether documents are encrypted at rest.
func (a *FileArea) Sealed() bool { return a != nil && a.sealer != nil }

func (a *FileArea) Load(ctx context.Context) (Pair, bool, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, false, err
	}

	raw, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Pair{}, false, nil
	}
	if err != nil {
		return Pair{}, false, err
	}
	if len(raw) == 0 {
		return Pair{}, false, nil
	}

	if a.sealer != nil {
		raw, err = a.sealer.Open(strings.TrimSpace(string(raw)))
		if err != nil {
			return Pair{}, false, fmt.Errorf("credential: open %s: %w", a.path, err)
		}
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Pair{}, false, fmt.Errorf("credential: decode %s: %w", a.path, err)
	}
	if doc.V != fileDocVersion {
		return Pair{}, false, fmt.Errorf("credential: unsupported document version %d", doc.V)
	}

	p := Pair{AccessToken: doc.AccessToken, RefreshToken: doc.RefreshToken}
	if p.IsZero() {
		return Pair{}, false, nil
	}
	return p, true, nil
}

func (a *FileArea) Save(ctx context.Context, p Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := json.Marshal(fileDoc{
		V:            fileDocVersion,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if a.sealer != nil {
		sealed, err := a.sealer.Seal(b)
		if err != nil {
			return err
		}
		b = []byte(sealed + "\n")
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, a.path)
}

func (a *FileArea) Clear(_ context.Context) error {
	err := os.Remove(a.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
