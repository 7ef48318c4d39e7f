package offline

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rcliao/aangan/internal/push"
)

// Notifier surfaces system notifications and opens client windows.
type Notifier interface {
	Show(ctx context.Context, n push.Notification) error
	Open(ctx context.Context, url string) error
}

// WriterNotifier prints notifications and window openings as lines of text.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier writes to w, typically os.Stdout.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Show(_ context.Context, p push.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "[notification] %s: %s (%s)\n", p.Title, p.Body, p.Target())
	return err
}

func (n *WriterNotifier) Open(_ context.Context, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "[open] %s\n", url)
	return err
}
