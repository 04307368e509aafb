package fixture

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrUnsafePath is returned for archive entries that would escape the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Unpack decompresses the genesis file and the witness archive in place.
func Unpack(ctx context.Context, fx *Fixture) error {
	if err := DecompressFile(fx.Path(GenesisArchive), fx.GenesisPath()); err != nil {
		return fmt.Errorf("unpack %s: %w", fx.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ExtractArchive(ctx, fx.Path(WitnessArchive), fx.Dir); err != nil {
		return fmt.Errorf("unpack %s: %w", fx.Name, err)
	}
	return nil
}

// Clean removes the decompressed genesis file and witness directory.
// Archives are kept. Cleaning an already clean fixture is not an error.
func Clean(fx *Fixture) error {
	if err := os.Remove(fx.GenesisPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clean %s: %w", fx.Name, err)
	}
	if err := os.RemoveAll(fx.WitnessPath()); err != nil {
		return fmt.Errorf("clean %s: %w", fx.Name, err)
	}
	return nil
}

// PackFile zstd-compresses src into dst.
func PackFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("pack %s: %w", src, err)
	}
	defer in.Close()

	return writeCompressed(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// PackDir archives the directory src into a zstd-compressed tarball at dst.
// Entries are rooted at src's base name, so extracting next to the archive
// recreates the directory.
func PackDir(src, dst string) error {
	base := filepath.Base(src)
	return writeCompressed(dst, func(w io.Writer) error {
		tw := tar.NewWriter(w)
		err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !d.IsDir() && !info.Mode().IsRegular() {
				return fmt.Errorf("unsupported file %s", path)
			}

			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(filepath.Join(base, rel))
			if d.IsDir() {
				header.Name += "/"
			}
			if err := tw.WriteHeader(header); err != nil {
				return fmt.Errorf("write tar header: %w", err)
			}
			if d.IsDir() {
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return fmt.Errorf("write tar contents: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tw.Close()
	})
}

// DecompressFile writes the zstd-decompressed contents of src to dst.
func DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	defer dec.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	return out.Close()
}

// ExtractArchive unpacks a zstd-compressed tarball into dest.
func ExtractArchive(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar %s: %w", src, err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported tar entry %s (type %c)", header.Name, header.Typeflag)
		}
	}
}

func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func writeEntry(path string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCompressed(dst string, fill func(io.Writer) error) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderConcurrency(1))
	if err != nil {
		out.Close()
		return err
	}
	if err := fill(enc); err != nil {
		enc.Close()
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("compress %s: %w", dst, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
