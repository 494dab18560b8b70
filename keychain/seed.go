package keychain

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const masterKeyFilename = "master.key"

func masterKeyPath(dir string) string {
	return filepath.Join(dir, masterKeyFilename)
}

func Exists(dir string) bool {
	_, err := os.Stat(masterKeyPath(dir))
	return err == nil
}

// Init creates the master key file in dir. An empty mnemonic generates a new
// one, which is returned so the user can write it down.
func Init(dir string, mnemonic string) (createdMnemonic string, err error) {
	if Exists(dir) {
		err = errors.Errorf("master key already exists in %v, remove it first", dir)
		return
	}

	if len(mnemonic) == 0 {
		createdMnemonic, err = NewMnemonic()
		if err != nil {
			return
		}
		mnemonic = createdMnemonic
	}

	k, err := FromMnemonic(mnemonic)
	if err != nil {
		err = errors.Wrap(err, "cannot create master key from mnemonic")
		return
	}

	data, err := k.Serialize()
	if err != nil {
		err = errors.Wrap(err, "cannot Serialize masterKey")
		return
	}

	err = os.MkdirAll(dir, 0700)
	if err != nil {
		err = errors.Wrapf(err, "cannot create %v", dir)
		return
	}

	err = os.WriteFile(masterKeyPath(dir), data, 0600)
	if err != nil {
		err = errors.Wrap(err, "cannot WriteFile with masterKey")
	}
	return
}

func Open(dir string) (*Keychain, error) {
	data, err := os.ReadFile(masterKeyPath(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find master key in %v, run init first", dir)
	}
	return Deserialize(data)
}
