package netboot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/schollz/progressbar/v3"

	"github.com/nbdd0121/muntjac-soc/internal/alloc"
)

// LoadKernel fetches the configured kernel file over 9P and returns its
// contents in an arena-allocated buffer. Progress output goes to progress
// when non-nil.
func LoadKernel(ctx context.Context, log *slog.Logger, link Link, cfg Config, arena *alloc.Arena, progress io.Writer) ([]byte, error) {
	if cfg.Port == 0 {
		cfg.Port = 564
	}

	s, err := NewStack(ctx, log, link, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ip, err := s.Resolve(cfg.Server)
	if err != nil {
		return nil, err
	}

	conn, err := s.DialTCP(ctx, ip, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("netboot: connect %v:%d: %w", ip, cfg.Port, err)
	}
	defer conn.Close()

	client := newP9Client(conn)
	if err := client.version(); err != nil {
		return nil, fmt.Errorf("netboot: 9p version: %w", err)
	}

	const rootFid, fileFid = 0, 1
	if err := client.attach(rootFid, "/"); err != nil {
		return nil, fmt.Errorf("netboot: 9p attach: %w", err)
	}
	if err := client.walk(rootFid, fileFid, []string{cfg.Path}); err != nil {
		return nil, fmt.Errorf("netboot: 9p walk %q: %w", cfg.Path, err)
	}
	if err := client.open(fileFid, 0); err != nil {
		return nil, fmt.Errorf("netboot: 9p open %q: %w", cfg.Path, err)
	}

	size, err := client.getattrSize(fileFid)
	if err != nil {
		return nil, fmt.Errorf("netboot: 9p getattr: %w", err)
	}

	buf := arena.Alloc(int(size), 8)
	if buf == nil {
		return nil, fmt.Errorf("netboot: kernel image of %d bytes does not fit in the load arena", size)
	}

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions64(int64(size),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("kernel"),
			progressbar.OptionShowBytes(true),
		)
	}

	offset := uint64(0)
	for offset < size {
		n, err := client.read(fileFid, offset, buf[int(offset):])
		if err != nil {
			arena.Free(buf)
			return nil, fmt.Errorf("netboot: 9p read at %d: %w", offset, err)
		}
		if n == 0 {
			arena.Free(buf)
			return nil, fmt.Errorf("netboot: premature EOF at %d of %d", offset, size)
		}
		offset += uint64(n)
		if bar != nil {
			bar.Add(n)
		}
	}

	client.clunk(fileFid)
	client.clunk(rootFid)

	log.Info("kernel downloaded", "size", size, "server", net.JoinHostPort(cfg.Server, fmt.Sprint(cfg.Port)))
	return buf, nil
}
