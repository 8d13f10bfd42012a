package storage

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/dcrodman/tftp/internal/packets"
)

// blockThrottle hands out at most one Data block's worth of bytes per Read and
// waits for that many tokens before returning them.
type blockThrottle struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// Throttle limits reads from r to bytesPerSecond. The bucket holds a single
// block so a download can never run ahead of the limit by more than 512 bytes.
// r is returned unchanged when bytesPerSecond is 0 or negative.
func Throttle(ctx context.Context, r io.Reader, bytesPerSecond int64) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}
	return &blockThrottle{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), packets.MaxPayloadSize),
	}
}

func (t *blockThrottle) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > packets.MaxPayloadSize {
		p = p[:packets.MaxPayloadSize]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
