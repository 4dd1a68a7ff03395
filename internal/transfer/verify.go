package transfer

import (
	"bytes"
	"log/slog"
	"os"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

// signatureSuffixes name the detached signatures looked up for an asset.
var signatureSuffixes = []string{".asc", ".sig"}

// Verifier checks detached PGP signatures of downloaded assets.
type Verifier struct {
	pgp *crypto.PGPHandle
	key *crypto.Key
}

// NewVerifier loads the armored public key at keyPath.
func NewVerifier(keyPath string) (*Verifier, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read PGP key from: %s", keyPath)
	}
	key, err := crypto.NewKeyFromArmored(string(keyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse PGP key from: %s", keyPath)
	}
	return &Verifier{pgp: crypto.PGP(), key: key}, nil
}

// VerifyFile checks that sigPath holds a valid detached signature of the
// file at dataPath. Both armored and binary signatures are accepted.
func (v *Verifier) VerifyFile(dataPath, sigPath string) error {
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return errors.Wrap(err, "VerifyFile")
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return errors.Wrap(err, "VerifyFile")
	}

	encoding := crypto.Bytes
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN PGP")) {
		encoding = crypto.Armor
	}

	verifier, err := v.pgp.Verify().VerificationKey(v.key).New()
	if err != nil {
		return errors.Wrap(err, "failed to create verifier")
	}
	result, err := verifier.VerifyDetached(data, sig, encoding)
	if err != nil {
		return errors.Wrapf(err, "PGP signature verification failed for %s", dataPath)
	}
	if sigErr := result.SignatureError(); sigErr != nil {
		return errors.Wrapf(sigErr, "PGP signature verification failed for %s", dataPath)
	}

	slog.Info("PGP signature is valid", "file", dataPath, "key_id", v.key.GetHexKeyID())
	return nil
}

// verifyFiles checks every file that has a companion signature among files.
func (v *Verifier) verifyFiles(files []*File) error {
	byName := make(map[string]*File, len(files))
	for _, f := range files {
		byName[f.Asset.Name] = f
	}

	for _, f := range files {
		for _, suffix := range signatureSuffixes {
			sig, ok := byName[f.Asset.Name+suffix]
			if !ok {
				continue
			}
			if err := v.VerifyFile(f.Path, sig.Path); err != nil {
				return err
			}
		}
	}
	return nil
}
