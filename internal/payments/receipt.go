package payments

import (
	"errors"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/logging"
)

// FileReceiptProvider reads the purchase receipt from disk on every call.
type FileReceiptProvider struct {
	Path   string
	Logger logrus.FieldLogger
}

func (p FileReceiptProvider) ReceiptData() []byte {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.OrStandard(p.Logger).WithError(err).WithField("path", p.Path).Warn("read receipt failed")
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// StaticReceipt always returns the same receipt bytes.
type StaticReceipt []byte

func (r StaticReceipt) ReceiptData() []byte {
	if len(r) == 0 {
		return nil
	}
	return []byte(r)
}
