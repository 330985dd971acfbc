package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coreledger/privledger/pkg/cryptoprim"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
)

// masterPasswordVerifyPlaintext is sealed under the export's master
// password so a later import can confirm a supplied password is correct
// before touching any live state, without that plaintext ever appearing in
// the export document itself.
const masterPasswordVerifyPlaintext = "privledger-export-verify"

// ExportChain writes a plain (unencrypted) export of the entire chain to
// dirPath (spec §4.8 export_chain). Off-chain files are copied into a
// sibling off-chain-backup/ directory under dirPath. Export is read-only
// from the ledger's viewpoint and holds the shared lock, so multiple
// exports may run concurrently with each other and with other readers.
func (e *Engine) ExportChain(ctx context.Context, dirPath string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exportLocked(ctx, dirPath, "")
}

// ExportEncryptedChain writes an export whose encryption_data bundle lets a
// later ImportEncryptedChain confirm masterPassword before importing.
func (e *Engine) ExportEncryptedChain(ctx context.Context, dirPath, masterPassword string) error {
	if masterPassword == "" {
		return ledger.NewError(ledger.KindInvalidInput, "encrypted export requires a master password", nil)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exportLocked(ctx, dirPath, masterPassword)
}

func (e *Engine) exportLocked(ctx context.Context, dirPath, masterPassword string) error {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return ledger.NewError(ledger.KindStorage, "create export directory", err)
	}
	backupDir := filepath.Join(dirPath, offChainBackupDirName)
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return ledger.NewError(ledger.KindStorage, "create off-chain backup directory", err)
	}

	count, err := e.repos.Blocks.Count(ctx)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "count blocks", err)
	}

	blocks := make([]exportBlock, 0, count)
	batchSize := int64(e.cfg.ValidationBatchSize)
	if batchSize < 1 {
		batchSize = 1
	}
	for from := int64(0); from < count; from += batchSize {
		to := from + batchSize - 1
		rows, err := e.repos.Blocks.RangeScan(ctx, from, to)
		if err != nil {
			return ledger.NewError(ledger.KindStorage, "scan block batch", err)
		}
		for _, row := range rows {
			eb, err := e.exportOneBlock(ctx, row, backupDir)
			if err != nil {
				return err
			}
			blocks = append(blocks, eb)
		}
	}

	authKeys, err := e.exportAuthorizedKeys(ctx)
	if err != nil {
		return err
	}

	doc := &exportDocument{
		Version:          ExportFormatVersion,
		HasEncryptedData: masterPassword != "",
		ExportTimestamp:  e.clock.Now().UTC(),
		TotalBlocks:      uint64(count),
		Blocks:           blocks,
		AuthorizedKeys:   authKeys,
	}

	if masterPassword != "" {
		bundle, err := e.buildEncryptionBundle(masterPassword, blocks)
		if err != nil {
			return err
		}
		doc.EncryptionData = bundle
	}

	return writeExportDocument(dirPath, doc)
}

func (e *Engine) exportOneBlock(ctx context.Context, row *database.BlockRow, backupDir string) (exportBlock, error) {
	eb := exportBlock{
		Number:          row.Number,
		PreviousHash:    row.PreviousHash,
		Timestamp:       row.Timestamp,
		Data:            row.Data,
		Hash:            row.Hash,
		Signature:       row.Signature,
		SignerPublicKey: row.SignerPublicKey,
	}
	if row.SearchCategory.Valid {
		eb.SearchCategory = row.SearchCategory.String
	}
	if row.EncryptionKDF.Valid {
		eb.EncryptionMetadata = &exportEncryptionEnvelope{
			KDF:        row.EncryptionKDF.String,
			Iterations: int(row.EncryptionIterations.Int64),
			Salt:       row.EncryptionSalt,
			IV:         row.EncryptionIV,
			AAD:        row.EncryptionAAD,
		}
	}
	if row.OffChainDataHash.Valid {
		meta, err := e.repos.OffChain.GetByHash(ctx, row.OffChainDataHash.String)
		if err != nil {
			return exportBlock{}, ledger.NewError(ledger.KindStorage, "read off-chain metadata for export", err)
		}
		backupName := fmt.Sprintf("block_%d_%s", row.Number, filepath.Base(meta.FilePath))
		if err := copyFile(meta.FilePath, filepath.Join(backupDir, backupName)); err != nil {
			return exportBlock{}, ledger.NewError(ledger.KindStorage, "copy off-chain file to backup", err)
		}
		eb.OffChainRef = &exportOffChainRef{
			DataHash:        meta.DataHash,
			Signature:       meta.Signature,
			BackupFileName:  backupName,
			FileSize:        meta.FileSize,
			EncryptionIV:    meta.EncryptionIV,
			ContentType:     meta.ContentType,
			SignerPublicKey: meta.SignerPublicKey,
			CreatedAt:       meta.CreatedAt,
		}
	}
	return eb, nil
}

func (e *Engine) exportAuthorizedKeys(ctx context.Context) ([]exportAuthorizedKey, error) {
	publicKeys, err := e.repos.AuthorizedKeys.ListAllDistinctKeys(ctx)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "list authorized key identities", err)
	}

	var out []exportAuthorizedKey
	for _, pk := range publicKeys {
		records, err := e.keys.ListAll(ctx, pk)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			out = append(out, exportAuthorizedKey{
				PublicKey: rec.PublicKey,
				OwnerName: rec.OwnerName,
				IsActive:  rec.IsActive,
				CreatedAt: rec.CreatedAt,
				RevokedAt: rec.RevokedAt,
			})
		}
	}
	return out, nil
}

// buildEncryptionBundle seals the verification plaintext under
// masterPassword and records descriptive (non-secret) references for the
// per-block off-chain and on-chain encryption ingredients, per the schema
// documented on exportEncryptionData.
func (e *Engine) buildEncryptionBundle(masterPassword string, blocks []exportBlock) (*exportEncryptionData, error) {
	salt, err := cryptoprim.RandomBytes(cryptoprim.KDFSaltSizeBytes)
	if err != nil {
		return nil, err
	}
	key := cryptoprim.DeriveKey(masterPassword, salt)
	iv, ciphertext, err := cryptoprim.AESGCMEncrypt(key, []byte(masterPasswordVerifyPlaintext), nil)
	if err != nil {
		return nil, err
	}
	sealed := struct {
		Salt       []byte `json:"salt"`
		IV         []byte `json:"iv"`
		Ciphertext []byte `json:"ciphertext"`
	}{Salt: salt, IV: iv, Ciphertext: ciphertext}
	sealedJSON, err := json.Marshal(sealed)
	if err != nil {
		return nil, ledger.NewError(ledger.KindInvalidInput, "serialize master password seal", err)
	}

	offChainSeeds := make(map[string]string)
	blockRefs := make(map[string]string)
	for _, b := range blocks {
		key := fmt.Sprintf("%d", b.Number)
		if b.OffChainRef != nil {
			offChainSeeds[key] = cryptoprim.FormatOffChainSeed(uint64(b.Number), b.SignerPublicKey)
		}
		if b.EncryptionMetadata != nil {
			blockRefs[key] = fmt.Sprintf("%s iterations=%d salt=block-local", b.EncryptionMetadata.KDF, b.EncryptionMetadata.Iterations)
		}
	}

	return &exportEncryptionData{
		Version:             EncryptionBundleVersion,
		MasterPasswordSeal:  base64.StdEncoding.EncodeToString(sealedJSON),
		OffChainSeeds:       offChainSeeds,
		BlockEncryptionRefs: blockRefs,
		UserEncryptionKeys:  map[string]string{},
	}, nil
}

func writeExportDocument(dirPath string, doc *exportDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ledger.NewError(ledger.KindInvalidInput, "serialize export document", err)
	}
	manifestPath := filepath.Join(dirPath, "export.json")
	if err := os.WriteFile(manifestPath, data, 0600); err != nil {
		return ledger.NewError(ledger.KindStorage, "write export document", err)
	}
	return nil
}

func readExportDocument(dirPath string) (*exportDocument, error) {
	manifestPath := filepath.Join(dirPath, "export.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "read export document", err)
	}
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ledger.NewError(ledger.KindInvalidInput, "parse export document", err)
	}
	return &doc, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
