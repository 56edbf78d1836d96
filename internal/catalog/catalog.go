// Package catalog writes product image and commission records to the
// embedded single-writer store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/fieldtrack/internal/apperr"
	"example.com/fieldtrack/internal/store"
)

type Image struct {
	ProductCode string `json:"productCode"`
	ImageURL    string `json:"imageUrl"`
	UpdatedAt   string `json:"updatedAt"`
}

type Commission struct {
	AgentCode string  `json:"agentCode"`
	Percent   float64 `json:"percent"`
	UpdatedAt string  `json:"updatedAt"`
}

// Mutator applies single-row writes. exec should be wrapped with
// store.WithRetry so busy transactions are retried as a whole.
type Mutator struct {
	exec     store.Executor
	imageDir string
	log      zerolog.Logger
	now      func() time.Time
}

func NewMutator(exec store.Executor, imageDir string, log zerolog.Logger) *Mutator {
	return &Mutator{
		exec:     exec,
		imageDir: imageDir,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpsertImage points productCode at imageURL. Last write wins.
func (m *Mutator) UpsertImage(ctx context.Context, productCode, imageURL string) error {
	productCode = strings.TrimSpace(productCode)
	imageURL = strings.TrimSpace(imageURL)
	if productCode == "" {
		return apperr.Invalid("product code required")
	}
	if imageURL == "" {
		return apperr.Invalid("image url required")
	}
	stamp := m.now().Format(time.RFC3339)

	err := m.exec.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		rows, err := q.Query(ctx, `SELECT product_code FROM product_images WHERE product_code = ?`, productCode)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			_, err = q.Exec(ctx, `UPDATE product_images SET image_url = ?, updated_at = ? WHERE product_code = ?`,
				imageURL, stamp, productCode)
		} else {
			_, err = q.Exec(ctx, `INSERT INTO product_images (product_code, image_url, updated_at) VALUES (?, ?, ?)`,
				productCode, imageURL, stamp)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", productCode, err)
	}
	return nil
}

// Image returns the stored record for productCode.
func (m *Mutator) Image(ctx context.Context, productCode string) (Image, error) {
	rows, err := m.exec.Query(ctx,
		`SELECT product_code, image_url, updated_at FROM product_images WHERE product_code = ?`,
		strings.TrimSpace(productCode))
	if err != nil {
		return Image{}, fmt.Errorf("get image %s: %w", productCode, err)
	}
	if len(rows) == 0 {
		return Image{}, fmt.Errorf("image %s: %w", productCode, apperr.ErrNotFound)
	}
	return Image{
		ProductCode: rows[0].String("product_code"),
		ImageURL:    rows[0].String("image_url"),
		UpdatedAt:   rows[0].String("updated_at"),
	}, nil
}

// DeleteImage removes the row, then tries to remove the file it pointed
// at. The row deletion stands even when the file cannot be removed.
func (m *Mutator) DeleteImage(ctx context.Context, productCode string) error {
	productCode = strings.TrimSpace(productCode)
	if productCode == "" {
		return apperr.Invalid("product code required")
	}

	var imageURL string
	err := m.exec.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		rows, err := q.Query(ctx, `SELECT image_url FROM product_images WHERE product_code = ?`, productCode)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return apperr.ErrNotFound
		}
		imageURL = rows[0].String("image_url")
		_, err = q.Exec(ctx, `DELETE FROM product_images WHERE product_code = ?`, productCode)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete image %s: %w", productCode, err)
	}

	m.removeFile(productCode, imageURL)
	return nil
}

// UpdateCommission sets the commission percentage for agentCode.
func (m *Mutator) UpdateCommission(ctx context.Context, agentCode string, percent float64) error {
	agentCode = strings.TrimSpace(agentCode)
	if agentCode == "" {
		return apperr.Invalid("agent code required")
	}
	if percent < 0 || percent > 100 {
		return apperr.Invalid("percent must be within [0, 100], got %v", percent)
	}
	stamp := m.now().Format(time.RFC3339)

	err := m.exec.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		rows, err := q.Query(ctx, `SELECT agent_code FROM commissions WHERE agent_code = ?`, agentCode)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			_, err = q.Exec(ctx, `UPDATE commissions SET percent = ?, updated_at = ? WHERE agent_code = ?`,
				percent, stamp, agentCode)
		} else {
			_, err = q.Exec(ctx, `INSERT INTO commissions (agent_code, percent, updated_at) VALUES (?, ?, ?)`,
				agentCode, percent, stamp)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("update commission %s: %w", agentCode, err)
	}
	return nil
}

// Commission returns the stored record for agentCode.
func (m *Mutator) Commission(ctx context.Context, agentCode string) (Commission, error) {
	rows, err := m.exec.Query(ctx,
		`SELECT agent_code, percent, updated_at FROM commissions WHERE agent_code = ?`,
		strings.TrimSpace(agentCode))
	if err != nil {
		return Commission{}, fmt.Errorf("get commission %s: %w", agentCode, err)
	}
	if len(rows) == 0 {
		return Commission{}, fmt.Errorf("commission %s: %w", agentCode, apperr.ErrNotFound)
	}
	return Commission{
		AgentCode: rows[0].String("agent_code"),
		Percent:   rows[0].Float64("percent"),
		UpdatedAt: rows[0].String("updated_at"),
	}, nil
}

func (m *Mutator) removeFile(productCode, imageURL string) {
	name := fileName(imageURL)
	if name == "" || m.imageDir == "" {
		return
	}
	target := filepath.Join(m.imageDir, name)
	if err := os.Remove(target); err != nil {
		ev := m.log.Warn()
		if errors.Is(err, fs.ErrNotExist) {
			ev = ev.Bool("missing", true)
		}
		ev.Err(err).
			Str("product_code", productCode).
			Str("path", target).
			Msg("image file not removed")
	}
}

// fileName is the last path element of u, or "" when there is none.
func fileName(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
