package keys

import (
	"fmt"

	"github.com/falk/switch-tools-go/pkg/crypto"
)

// derive runs the Nintendo master-key chain bottom-up, filling every table
// entry the keyfile allows. Missing inputs leave their outputs nil. When
// targetGeneration > 0, key-area derivation for other generations is skipped;
// the output for that generation is unchanged.
func (s *KeySet) derive(targetGeneration int) {
	s.deriveKeyblobs()
	s.deriveMasterKeys()
	s.deriveKeyAreaKeys(targetGeneration)
	s.deriveHeaderKey()
}

// deriveKeyblobs unwraps the six eristas keyblobs:
// keyblob_key = dec(secure_boot_key, dec(tsec_key, keyblob_key_source)),
// then the keyblob body is AES-CTR decrypted with the counter stored in
// the encrypted blob itself.
func (s *KeySet) deriveKeyblobs() {
	secureBootKey := s.raw["secure_boot_key"]
	tsecKey := s.raw["tsec_key"]
	macKeySource := s.raw["keyblob_mac_key_source"]

	for i := 0; i < numKeyblobs; i++ {
		source := s.raw[fmt.Sprintf("keyblob_key_source_%02x", i)]
		if secureBootKey == nil || tsecKey == nil || source == nil {
			continue
		}

		inner, err := crypto.ECBDecrypt(source, tsecKey)
		if err != nil {
			continue
		}
		keyblobKey, err := crypto.ECBDecrypt(inner, secureBootKey)
		if err != nil {
			continue
		}
		s.keyblobKeys[i] = keyblobKey

		if macKeySource != nil {
			if macKey, err := crypto.ECBDecrypt(macKeySource, keyblobKey); err == nil {
				s.keyblobMacKeys[i] = macKey
			}
		}

		encrypted := s.raw[fmt.Sprintf("encrypted_keyblob_%02x", i)]
		if len(encrypted) < 0x20+0x90 {
			continue
		}

		body := make([]byte, 0x90)
		copy(body, encrypted[0x20:0x20+0x90])
		if err := crypto.CTRCryptRaw(body, keyblobKey, encrypted[0x10:0x20]); err != nil {
			continue
		}
		s.keyblobs[i] = body

		s.masterKeks[i] = body[0x00:0x10]
		s.package1Keys[i] = body[0x80:0x90]
	}
}

// deriveMasterKeys fills master keks (keyblob era and tsec era) and master
// keys. Master keys given directly in the keyfile take precedence.
func (s *KeySet) deriveMasterKeys() {
	tsecRootKek := s.raw["tsec_root_kek"]
	masterKeySource := s.raw["master_key_source"]

	for i := 0; i < NumGenerations; i++ {
		// Mariko-era generations run through the tsec root key.
		if i >= numKeyblobs {
			if rootKey := s.raw[fmt.Sprintf("tsec_root_key_%02x", i-numKeyblobs)]; rootKey != nil {
				s.tsecRootKeys[i] = rootKey
			} else if auth := s.raw[fmt.Sprintf("tsec_auth_signature_%02x", i-numKeyblobs)]; auth != nil && tsecRootKek != nil {
				if rk, err := crypto.ECBEncrypt(auth, tsecRootKek); err == nil {
					s.tsecRootKeys[i] = rk
				}
			}

			kekSource := s.raw[fmt.Sprintf("master_kek_source_%02x", i)]
			if s.tsecRootKeys[i] != nil && kekSource != nil {
				if kek, err := crypto.ECBDecrypt(kekSource, s.tsecRootKeys[i]); err == nil {
					s.masterKeks[i] = kek
				}
			}
		}

		if direct := s.raw[fmt.Sprintf("master_key_%02x", i)]; direct != nil {
			s.masterKeys[i] = direct
			continue
		}
		if s.masterKeks[i] == nil || masterKeySource == nil {
			continue
		}
		if mk, err := crypto.ECBDecrypt(masterKeySource, s.masterKeks[i]); err == nil {
			s.masterKeys[i] = mk
		}
	}
}

// generateKek is the standard two-stage kek generation:
// kek = dec(dec(master_key, kek_seed), src), then optionally dec(kek, key_seed).
func generateKek(src, masterKey, kekSeed, keySeed []byte) ([]byte, error) {
	kek, err := crypto.ECBDecrypt(kekSeed, masterKey)
	if err != nil {
		return nil, err
	}

	srcKek, err := crypto.ECBDecrypt(src, kek)
	if err != nil {
		return nil, err
	}

	if keySeed != nil {
		return crypto.ECBDecrypt(keySeed, srcKek)
	}
	return srcKek, nil
}

func (s *KeySet) deriveKeyAreaKeys(targetGeneration int) {
	aesKekGen := s.raw["aes_kek_generation_source"]
	aesKeyGen := s.raw["aes_key_generation_source"]
	titleKekSource := s.raw["titlekek_source"]

	keyAreaSources := [3][]byte{
		s.raw["key_area_key_application_source"],
		s.raw["key_area_key_ocean_source"],
		s.raw["key_area_key_system_source"],
	}

	for i := 0; i < NumGenerations; i++ {
		if targetGeneration > 0 && i != targetGeneration-1 {
			continue
		}
		masterKey := s.masterKeys[i]
		if masterKey == nil {
			continue
		}

		if titleKekSource != nil {
			if tk, err := crypto.ECBDecrypt(titleKekSource, masterKey); err == nil {
				s.titleKeks[i] = tk
			}
		}

		if aesKekGen == nil || aesKeyGen == nil {
			continue
		}
		for variant := 0; variant < 3; variant++ {
			if keyAreaSources[variant] == nil {
				continue
			}
			if kak, err := generateKek(keyAreaSources[variant], masterKey, aesKekGen, aesKeyGen); err == nil {
				s.keyAreaKeys[i][variant] = kak
			}
		}
	}
}

// deriveHeaderKey derives the 32-byte XTS header key from generation 0.
// A header_key given directly in the keyfile takes precedence.
func (s *KeySet) deriveHeaderKey() {
	if direct := s.raw["header_key"]; len(direct) == 32 {
		s.headerKey = direct
		return
	}

	headerKekSource := s.raw["header_kek_source"]
	headerKeySource := s.raw["header_key_source"]
	aesKekGen := s.raw["aes_kek_generation_source"]
	aesKeyGen := s.raw["aes_key_generation_source"]
	masterKey := s.masterKeys[0]

	if headerKekSource == nil || headerKeySource == nil || aesKekGen == nil || aesKeyGen == nil || masterKey == nil {
		return
	}

	headerKek, err := generateKek(headerKekSource, masterKey, aesKekGen, aesKeyGen)
	if err != nil {
		return
	}
	if headerKey, err := crypto.ECBDecrypt(headerKeySource, headerKek); err == nil {
		s.headerKey = headerKey
	}
}
