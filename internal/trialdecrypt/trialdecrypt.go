// Package trialdecrypt adapts the native trial-decryption library to the
// scanner's oracle interface. The protocol arithmetic lives behind a JSON
// FFI boundary; this package only marshals descriptors and keys across.
package trialdecrypt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/ffi"
	"github.com/Abdullah1738/juno-sync/internal/scanner"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

type Oracle struct{}

func New() *Oracle {
	return &Oracle{}
}

type request struct {
	Output requestOutput `json:"output"`
	Keys   []requestKey  `json:"keys"`
}

type requestOutput struct {
	Cmu          string `json:"cmu"`
	EphemeralKey string `json:"epk"`
	Ciphertext   string `json:"ciphertext"`
}

type requestKey struct {
	AccountID string `json:"account_id"`
	Key       string `json:"key"`
}

type response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Note   *struct {
		AccountID string `json:"account_id"`
		Value     int64  `json:"value_zatoshis"`
		MemoHex   string `json:"memo_hex,omitempty"`
		Nullifier string `json:"nullifier,omitempty"`
	} `json:"note,omitempty"`
}

func (o *Oracle) TryDecrypt(ctx context.Context, out compact.Output, keys []wallet.ViewingKey) (scanner.Decrypted, bool, error) {
	_ = ctx // reserved; the ffi call is synchronous

	if len(keys) == 0 {
		return scanner.Decrypted{}, false, nil
	}

	req := request{
		Output: requestOutput{
			Cmu:          hex.EncodeToString(out.Cmu),
			EphemeralKey: hex.EncodeToString(out.EphemeralKey),
			Ciphertext:   hex.EncodeToString(out.Ciphertext),
		},
	}
	for _, k := range keys {
		req.Keys = append(req.Keys, requestKey{AccountID: k.AccountID, Key: k.Key})
	}

	b, err := json.Marshal(req)
	if err != nil {
		return scanner.Decrypted{}, false, errors.New("trialdecrypt: marshal request")
	}

	raw, err := ffi.TryDecryptJSON(string(b))
	if err != nil {
		return scanner.Decrypted{}, false, err
	}

	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return scanner.Decrypted{}, false, errors.New("trialdecrypt: invalid response")
	}

	switch resp.Status {
	case "ok":
		if resp.Note == nil {
			return scanner.Decrypted{}, false, nil
		}
		return scanner.Decrypted{
			AccountID: resp.Note.AccountID,
			Value:     resp.Note.Value,
			MemoHex:   resp.Note.MemoHex,
			Nullifier: resp.Note.Nullifier,
		}, true, nil
	case "err":
		if resp.Error == "" {
			return scanner.Decrypted{}, false, errors.New("trialdecrypt: invalid response")
		}
		return scanner.Decrypted{}, false, fmt.Errorf("trialdecrypt: %s", resp.Error)
	default:
		return scanner.Decrypted{}, false, errors.New("trialdecrypt: invalid response")
	}
}
