// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"io"
)

// SignatureStatus is the outcome of VerifySignature.
type SignatureStatus int

const (
	// SignatureNone means the archive carries no signature.
	SignatureNone SignatureStatus = iota
	// SignatureWeakValid means the weak signature verified.
	SignatureWeakValid
	// SignatureWeakInvalid means a weak signature is present but did not
	// verify.
	SignatureWeakInvalid
	// SignatureWeakNoKey means a weak signature is present but no public
	// key has been configured to check it.
	SignatureWeakNoKey
	// SignatureStrongValid means the strong signature verified.
	SignatureStrongValid
	// SignatureStrongInvalid means a strong signature is present but did
	// not verify.
	SignatureStrongInvalid
	// SignatureStrongNoKey means a strong signature is present but no
	// public key has been configured to check it.
	SignatureStrongNoKey
)

func (s SignatureStatus) String() string {
	switch s {
	case SignatureNone:
		return "none"
	case SignatureWeakValid:
		return "weak valid"
	case SignatureWeakInvalid:
		return "weak invalid"
	case SignatureWeakNoKey:
		return "weak present, no key"
	case SignatureStrongValid:
		return "strong valid"
	case SignatureStrongInvalid:
		return "strong invalid"
	case SignatureStrongNoKey:
		return "strong present, no key"
	default:
		return fmt.Sprintf("SignatureStatus(%d)", int(s))
	}
}

// Verification keys are configured by the caller; the well-known vendor
// keys ship with the games, not with this package.
var (
	weakSignatureKey   *rsa.PublicKey
	strongSignatureKey *rsa.PublicKey
)

// SetWeakSignatureKey installs the RSA public key used to verify weak
// (signature)-file signatures. nil disables weak verification.
func SetWeakSignatureKey(key *rsa.PublicKey) { weakSignatureKey = key }

// SetStrongSignatureKey installs the RSA public key used to verify strong
// trailing signatures. nil disables strong verification.
func SetStrongSignatureKey(key *rsa.PublicKey) { strongSignatureKey = key }

// strongSignatureMagic tags the block appended after the archive end.
var strongSignatureMagic = []byte("NGIS")

const (
	weakSignatureSize   = 64  // 512-bit RSA
	strongSignatureSize = 256 // 2048-bit RSA
	weakSignatureFile   = 8 + weakSignatureSize
)

// VerifySignature checks the archive's signature, preferring a strong
// trailing signature over the weak (signature) file. The weak digest is
// MD5 over the archive with the signature file's data region zeroed; the
// strong digest is SHA-1 over the whole archive. Both are verified as
// RSASSA-PKCS1-v1_5.
func (a *Archive) VerifySignature() (SignatureStatus, error) {
	archiveSize := a.archiveSize()

	if status, found, err := a.verifyStrong(archiveSize); err != nil {
		return SignatureNone, &ArchiveError{Op: "verify signature", Path: a.path, Err: err}
	} else if found {
		return status, nil
	}

	status, found, err := a.verifyWeak(archiveSize)
	if err != nil {
		return SignatureNone, &ArchiveError{Op: "verify signature", Path: a.path, Err: err}
	}
	if !found {
		return SignatureNone, nil
	}
	return status, nil
}

func (a *Archive) archiveSize() uint64 {
	hdr := a.header
	if hdr.Version() >= V3 && hdr.ArchiveSize64 != 0 {
		return hdr.ArchiveSize64
	}
	if hdr.ArchiveSize != 0 {
		return uint64(hdr.ArchiveSize)
	}
	return uint64(a.fileSize) - a.archiveOffset
}

func (a *Archive) verifyStrong(archiveSize uint64) (SignatureStatus, bool, error) {
	trailer := int64(a.archiveOffset + archiveSize)
	tag := make([]byte, 4)
	if _, err := a.file.ReadAt(tag, trailer); err != nil || !bytes.Equal(tag, strongSignatureMagic) {
		return SignatureNone, false, nil
	}

	sig := make([]byte, strongSignatureSize)
	if _, err := a.file.ReadAt(sig, trailer+4); err != nil {
		return SignatureStrongInvalid, true, nil
	}
	if strongSignatureKey == nil {
		return SignatureStrongNoKey, true, nil
	}

	h := sha1.New()
	if _, err := a.file.Seek(int64(a.archiveOffset), io.SeekStart); err != nil {
		return SignatureNone, true, err
	}
	if _, err := io.CopyN(h, a.file, int64(archiveSize)); err != nil {
		return SignatureNone, true, err
	}

	if err := rsa.VerifyPKCS1v15(strongSignatureKey, crypto.SHA1, h.Sum(nil), sig); err != nil {
		return SignatureStrongInvalid, true, nil
	}
	return SignatureStrongValid, true, nil
}

func (a *Archive) verifyWeak(archiveSize uint64) (SignatureStatus, bool, error) {
	info, err := a.findFile(nameSignature, localeNeutral)
	if err != nil {
		return SignatureNone, false, nil
	}

	content, err := readFileContents(a.file, info, a.sectorSize, false, nil)
	if err != nil || len(content) < weakSignatureFile {
		return SignatureWeakInvalid, true, nil
	}
	sig := content[8 : 8+weakSignatureSize]
	if weakSignatureKey == nil {
		return SignatureWeakNoKey, true, nil
	}

	// The digest covers the archive with the signature file's stored
	// bytes zeroed, since they could not cover themselves.
	data := make([]byte, archiveSize)
	if _, err := a.file.ReadAt(data, int64(a.archiveOffset)); err != nil && err != io.EOF {
		return SignatureNone, true, err
	}
	start := uint64(info.FilePos) - a.archiveOffset
	end := start + uint64(info.CompressedSize)
	if end > archiveSize {
		end = archiveSize
	}
	for i := start; i < end; i++ {
		data[i] = 0
	}

	digest := fileMD5(data)
	if err := rsa.VerifyPKCS1v15(weakSignatureKey, crypto.MD5, digest[:], sig); err != nil {
		return SignatureWeakInvalid, true, nil
	}
	return SignatureWeakValid, true, nil
}
