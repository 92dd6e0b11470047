package capsule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/domain/artifact"
	"capsule-server/services/capsule-api/internal/domain/bundle"
	"capsule-server/services/capsule-api/internal/domain/quota"
	"capsule-server/services/capsule-api/internal/domain/safety"
	"capsule-server/services/capsule-api/internal/domain/sandbox"
	"capsule-server/services/capsule-api/internal/infrastructure/metrics"
	"capsule-server/services/capsule-api/internal/utils/platformerrors"
	"capsule-server/services/capsule-api/utils/capsuleid"
)

// Pipeline states, for metrics and audit logging.
const (
	stateReceived      = "received"
	stateClassified    = "classified"
	stateStored        = "stored"
	stateQuotaReserved = "quota-reserved"
	stateCompiled      = "compiled"
	stateCommitted     = "committed"
	stateRolledBack    = "rolled-back"
)

// SafetyClassifier scores a file set before anything is written.
type SafetyClassifier interface {
	Classify(ctx context.Context, files []safety.SourceFile) (*safety.Verdict, error)
}

// BundleStore is the content-addressed storage surface the pipeline writes to.
type BundleStore interface {
	Put(ctx context.Context, files []bundle.File) (*bundle.PutResult, error)
	Get(ctx context.Context, hash string) ([]bundle.File, error)
	Verify(ctx context.Context, hash string) error
	Delete(ctx context.Context, hash string) (bool, error)
}

// QuotaLedger meters per-owner storage.
type QuotaLedger interface {
	PreCheck(ctx context.Context, ownerID string, delta int64) error
	Reserve(ctx context.Context, ownerID string, delta int64) (*quota.Reservation, error)
	Release(ctx context.Context, ownerID string, delta int64) error
	Usage(ctx context.Context, ownerID string) (*quota.Account, error)
}

// ArtifactCompiler turns a validated file set into a runtime artifact and
// owns the compiled-bundle blob namespace, so it also removes bundles when
// their capsule goes away.
type ArtifactCompiler interface {
	Compile(ctx context.Context, req artifact.CompileRequest) (*artifact.Compiled, error)
	Remove(ctx context.Context, bundleKey string) error
}

// ServiceOptions carries the pipeline tunables plus the deployment's runtime
// asset locations, needed to rebuild manifests on a cache miss.
type ServiceOptions struct {
	MaxBundleFiles    int
	ClassifierTimeout time.Duration
	CompileTimeout    time.Duration
	Runtime           artifact.RuntimeOptions
}

// Service is the publish orchestrator. Each call is request-scoped and
// stateless; every durable effect lives in the repositories, the bundle
// store and the cache.
type Service struct {
	repo       Repository
	artifacts  artifact.Repository
	bundles    BundleStore
	ledger     QuotaLedger
	classifier SafetyClassifier
	compiler   ArtifactCompiler
	cache      ManifestCache
	opts       ServiceOptions
	log        zerolog.Logger
}

func NewService(
	repo Repository,
	artifacts artifact.Repository,
	bundles BundleStore,
	ledger QuotaLedger,
	classifier SafetyClassifier,
	compiler ArtifactCompiler,
	cache ManifestCache,
	opts ServiceOptions,
	log zerolog.Logger,
) *Service {
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = 5 * time.Second
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = 15 * time.Second
	}
	return &Service{
		repo:       repo,
		artifacts:  artifacts,
		bundles:    bundles,
		ledger:     ledger,
		classifier: classifier,
		compiler:   compiler,
		cache:      cache,
		opts:       opts,
		log:        log.With().Str("component", "capsule-service").Logger(),
	}
}

// Publish runs the pipeline: validate, classify, store, reserve quota,
// compile, commit. Failures after the bundle is stored trigger compensating
// cleanup so quota accounting and blob presence never diverge. A compile
// failure is non-fatal: the capsule commits without an artifact.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	log := s.log.With().Str("owner_id", req.OwnerID).Logger()

	// received → classified: fail fast, no side effects.
	manifest, err := ParseManifest(req.Manifest)
	if err != nil {
		metrics.RecordPublish(stateReceived, 0)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, err.Error(), err, "")
	}
	if err := ValidateFiles(manifest, req.Files, s.opts.MaxBundleFiles); err != nil {
		metrics.RecordPublish(stateReceived, 0)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation, err.Error(), err, "")
	}
	if req.ParentID != nil {
		if parent, err := s.repo.GetByPublicID(ctx, *req.ParentID); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeInternal, "resolve parent capsule", err, "")
		} else if parent == nil {
			metrics.RecordPublish(stateReceived, 0)
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeValidation,
				fmt.Sprintf("parent capsule %s does not exist", *req.ParentID), nil, "")
		}
	}

	classifyCtx, cancel := context.WithTimeout(ctx, s.opts.ClassifierTimeout)
	verdict, err := s.classifier.Classify(classifyCtx, safetySources(req.Files))
	cancel()
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "safety classification failed", err, "")
	}
	if verdict.Action == safety.ActionBlock {
		metrics.RecordPublish(stateClassified, 0)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeUnsafeContent,
			fmt.Sprintf("content blocked by safety policy: %s", joinReasons(verdict.Reasons)), nil, "")
	}
	quarantined := verdict.Action == safety.ActionQuarantine
	metrics.RecordPublish(stateClassified, 0)

	// Plan ceilings are checked before the blob write so a doomed publish
	// never stores anything.
	totalSize := requestSize(req.Files)
	if err := s.ledger.PreCheck(ctx, req.OwnerID, totalSize); err != nil {
		return nil, s.quotaError(ctx, err)
	}

	// classified → stored.
	put, err := s.bundles.Put(ctx, bundleFiles(req.Files))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "store bundle", err, "")
	}

	metrics.RecordPublish(stateStored, 0)

	capsuleRecord := &Capsule{
		ID:          capsuleid.NewCapsule(),
		OwnerID:     req.OwnerID,
		Manifest:    req.Manifest,
		ContentHash: put.ContentHash,
		TotalSize:   put.TotalSize,
		FileCount:   put.FileCount,
		Quarantined: quarantined,
		ParentID:    req.ParentID,
	}
	if err := s.repo.CreateWithAssets(ctx, capsuleRecord, assetRows(req.Files)); err != nil {
		s.cleanupBlob(ctx, put.ContentHash)
		metrics.RecordPublish(stateRolledBack, 0)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "persist capsule", err, "")
	}

	// stored → quota-reserved.
	if _, err := s.ledger.Reserve(ctx, req.OwnerID, put.TotalSize); err != nil {
		s.rollback(ctx, capsuleRecord)
		metrics.RecordPublish(stateRolledBack, 0)
		return nil, s.quotaError(ctx, err)
	}
	metrics.RecordPublish(stateQuotaReserved, 0)

	// quota-reserved → compiled. Failure here is logged and swallowed: the
	// capsule still commits, the viewer falls back to a non-runtime render.
	var summary *ArtifactSummary
	var warnings []string
	compileCtx, cancelCompile := context.WithTimeout(ctx, s.opts.CompileTimeout)
	compiled, compileErr := s.compiler.Compile(compileCtx, artifact.CompileRequest{
		ArtifactID: capsuleid.NewArtifact(),
		Entry:      manifest.Entry,
		Runner:     manifest.Runner,
		Files:      compilerSources(req.Files),
	})
	cancelCompile()
	if compileErr != nil {
		log.Warn().Err(compileErr).
			Str("capsule_id", capsuleRecord.ID).
			Msg("artifact compilation failed, committing capsule without artifact")
		warnings = append(warnings, "artifact compilation failed; capsule published without a runtime artifact")
	} else {
		metrics.RecordPublish(stateCompiled, 0)
		summary, err = s.commitArtifact(ctx, capsuleRecord, compiled)
		if err != nil {
			log.Warn().Err(err).
				Str("capsule_id", capsuleRecord.ID).
				Msg("artifact persistence failed, committing capsule without artifact")
			warnings = append(warnings, "artifact compilation failed; capsule published without a runtime artifact")
			summary = nil
		}
	}

	// compiled → committed.
	metrics.RecordPublish(stateCommitted, put.TotalSize)
	log.Info().
		Str("capsule_id", capsuleRecord.ID).
		Str("content_hash", put.ContentHash).
		Int64("total_size", put.TotalSize).
		Bool("quarantined", quarantined).
		Bool("bundle_written", put.Written).
		Msg("capsule published")

	if quarantined {
		warnings = append(warnings, "content quarantined pending review; capsule is visible only to its owner")
	}
	return &PublishResult{
		CapsuleID:   capsuleRecord.ID,
		ContentHash: put.ContentHash,
		TotalSize:   put.TotalSize,
		FileCount:   put.FileCount,
		Quarantined: quarantined,
		Warnings:    warnings,
		Artifact:    summary,
	}, nil
}

// commitArtifact persists the artifact and its first manifest version, then
// primes the manifest cache.
func (s *Service) commitArtifact(ctx context.Context, capsuleRecord *Capsule, compiled *artifact.Compiled) (*ArtifactSummary, error) {
	record := &artifact.Artifact{
		ID:             compiled.Manifest.ArtifactID,
		OwnerID:        capsuleRecord.OwnerID,
		CapsuleID:      capsuleRecord.ID,
		Type:           compiled.Type,
		RuntimeVersion: compiled.Manifest.RuntimeVersion,
		BundleDigest:   compiled.BundleDigest,
	}
	version := &artifact.ManifestVersion{
		ArtifactID:      record.ID,
		Version:         compiled.Manifest.Version,
		IsLatest:        true,
		BundleKey:       compiled.BundleKey,
		BundleSizeBytes: compiled.BundleSizeBytes,
		BundleDigest:    compiled.BundleDigest,
		Imports:         compiled.Imports,
	}
	if err := s.artifacts.Create(ctx, record, version); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(compiled.Manifest); err == nil {
			if err := s.cache.SetManifest(ctx, record.ID, raw); err != nil {
				s.log.Warn().Err(err).Str("artifact_id", record.ID).Msg("manifest cache prime failed")
			}
		}
	}

	return &ArtifactSummary{
		ID:              record.ID,
		RuntimeVersion:  record.RuntimeVersion,
		BundleDigest:    compiled.BundleDigest,
		BundleSizeBytes: compiled.BundleSizeBytes,
	}, nil
}

// rollback undoes a stored-but-unreserved publish: the capsule row goes, and
// the blob goes unless another capsule references the same hash. Rollback
// errors are logged at the highest severity and never surfaced; an orphan
// blob beats crashing a request that already failed.
func (s *Service) rollback(ctx context.Context, capsuleRecord *Capsule) {
	if err := s.repo.Delete(ctx, capsuleRecord.ID); err != nil {
		s.log.Error().Err(err).
			Str("capsule_id", capsuleRecord.ID).
			Msg("compensating capsule delete failed, manual cleanup required")
		return
	}
	s.cleanupBlob(ctx, capsuleRecord.ContentHash)
}

func (s *Service) cleanupBlob(ctx context.Context, contentHash string) {
	if _, err := s.bundles.Delete(ctx, contentHash); err != nil {
		s.log.Error().Err(err).
			Str("content_hash", contentHash).
			Msg("compensating blob delete failed, orphan blob left behind")
	}
}

// GetCapsule returns a capsule after verifying the stored bundle still
// matches its hash. Corrupted content is never silently served.
func (s *Service) GetCapsule(ctx context.Context, id string) (*Capsule, error) {
	record, err := s.repo.GetByPublicID(ctx, id)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load capsule", err, "")
	}
	if record == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("capsule %s not found", id), nil, "")
	}
	if err := s.bundles.Verify(ctx, record.ContentHash); err != nil {
		if errors.Is(err, bundle.ErrIntegrity) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeIntegrity,
				"stored content does not match its recorded hash; content may be corrupted", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "verify bundle", err, "")
	}
	return record, nil
}

// CapsuleAssets lists the file inventory of a capsule.
func (s *Service) CapsuleAssets(ctx context.Context, id string) ([]Asset, error) {
	assets, err := s.repo.ListAssets(ctx, id)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "list capsule assets", err, "")
	}
	return assets, nil
}

// DeleteCapsule removes a capsule (moderation or owner delete): artifact
// rows go first, then the capsule row, then the blobs (compiled bundles,
// source bundle if unreferenced), and finally the quota credit. Cached
// manifests are invalidated so a deleted artifact stops serving immediately
// instead of riding out the cache TTL.
func (s *Service) DeleteCapsule(ctx context.Context, id string) error {
	record, err := s.repo.GetByPublicID(ctx, id)
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load capsule", err, "")
	}
	if record == nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("capsule %s not found", id), nil, "")
	}

	// Bundle keys must be collected before the rows are deleted, they are
	// unreachable afterwards.
	artifactIDs, bundleKeys, err := s.collectArtifactBlobs(ctx, record.ID)
	if err != nil {
		return err
	}

	if err := s.artifacts.DeleteByCapsule(ctx, record.ID); err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "delete capsule artifacts", err, "")
	}
	if err := s.repo.Delete(ctx, record.ID); err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "delete capsule", err, "")
	}

	for _, key := range bundleKeys {
		if err := s.compiler.Remove(ctx, key); err != nil {
			s.log.Error().Err(err).
				Str("bundle_key", key).
				Msg("compiled bundle delete failed, orphan blob left behind")
		}
	}
	if s.cache != nil {
		for _, artifactID := range artifactIDs {
			if err := s.cache.InvalidateManifest(ctx, artifactID); err != nil {
				s.log.Warn().Err(err).Str("artifact_id", artifactID).Msg("manifest cache invalidation failed")
			}
		}
	}
	s.cleanupBlob(ctx, record.ContentHash)

	if err := s.ledger.Release(ctx, record.OwnerID, record.TotalSize); err != nil {
		s.log.Error().Err(err).
			Str("capsule_id", record.ID).
			Str("owner_id", record.OwnerID).
			Int64("total_size", record.TotalSize).
			Msg("quota credit after delete failed")
	}

	s.log.Info().
		Str("capsule_id", record.ID).
		Str("owner_id", record.OwnerID).
		Msg("capsule deleted")
	return nil
}

// GetArtifactManifest resolves the latest runtime manifest for the frame
// loader. The artifact and its backing capsule are loaded before the cache is
// consulted: quarantine visibility cannot be decided from the cached document
// alone, and a quarantined capsule's manifest is served only to its owner.
func (s *Service) GetArtifactManifest(ctx context.Context, artifactID, viewerID string) (json.RawMessage, error) {
	record, err := s.artifacts.GetByPublicID(ctx, artifactID)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load artifact", err, "")
	}
	if record == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("artifact %s not found", artifactID), nil, "")
	}
	if err := s.authorizeArtifactView(ctx, record, viewerID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := s.cache.GetManifest(ctx, artifactID); err == nil && raw != nil {
			return raw, nil
		}
	}

	version, err := s.artifacts.GetLatestManifest(ctx, artifactID)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load artifact manifest", err, "")
	}
	if version == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("artifact %s has no manifest", artifactID), nil, "")
	}

	raw, err := json.Marshal(s.manifestDocument(record, version))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "encode runtime manifest", err, "")
	}
	if s.cache != nil {
		if err := s.cache.SetManifest(ctx, artifactID, raw); err != nil {
			s.log.Warn().Err(err).Str("artifact_id", artifactID).Msg("manifest cache fill failed")
		}
	}
	return raw, nil
}

// RecompileArtifact rebuilds an artifact's bundle from its capsule's stored
// files and appends a new manifest version, superseding the previous one.
// Used after a runtime asset rollout so existing artifacts pick up the new
// loader contract. Only the owner may trigger a rebuild; anyone else sees the
// artifact as absent. Unlike publish-time compilation, failure here is
// surfaced: the caller asked for the rebuild explicitly.
func (s *Service) RecompileArtifact(ctx context.Context, artifactID, callerID string) (json.RawMessage, error) {
	record, err := s.artifacts.GetByPublicID(ctx, artifactID)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load artifact", err, "")
	}
	if record == nil || record.OwnerID != callerID {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("artifact %s not found", artifactID), nil, "")
	}
	capsuleRecord, err := s.repo.GetByPublicID(ctx, record.CapsuleID)
	if err != nil || capsuleRecord == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound,
			fmt.Sprintf("capsule %s backing artifact %s not found", record.CapsuleID, artifactID), err, "")
	}
	manifest, err := ParseManifest(capsuleRecord.Manifest)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "parse stored manifest", err, "")
	}
	stored, err := s.bundles.Get(ctx, capsuleRecord.ContentHash)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "load stored bundle", err, "")
	}
	latest, err := s.artifacts.GetLatestManifest(ctx, artifactID)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load artifact manifest", err, "")
	}
	nextVersion := 1
	if latest != nil {
		nextVersion = latest.Version + 1
	}

	compileCtx, cancel := context.WithTimeout(ctx, s.opts.CompileTimeout)
	compiled, err := s.compiler.Compile(compileCtx, artifact.CompileRequest{
		ArtifactID: artifactID,
		Entry:      manifest.Entry,
		Runner:     manifest.Runner,
		Files:      compilerSourcesFromBundle(stored),
	})
	cancel()
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "recompile artifact", err, "")
	}

	version := &artifact.ManifestVersion{
		ArtifactID:      artifactID,
		Version:         nextVersion,
		IsLatest:        true,
		BundleKey:       compiled.BundleKey,
		BundleSizeBytes: compiled.BundleSizeBytes,
		BundleDigest:    compiled.BundleDigest,
		Imports:         compiled.Imports,
	}
	if err := s.artifacts.AddManifestVersion(ctx, artifactID, version); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "persist manifest version", err, "")
	}
	if s.cache != nil {
		if err := s.cache.InvalidateManifest(ctx, artifactID); err != nil {
			s.log.Warn().Err(err).Str("artifact_id", artifactID).Msg("manifest cache invalidation failed")
		}
	}

	s.log.Info().
		Str("artifact_id", artifactID).
		Int("version", nextVersion).
		Str("digest", compiled.BundleDigest).
		Msg("artifact recompiled")

	raw, err := json.Marshal(s.manifestDocument(record, version))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeInternal, "encode runtime manifest", err, "")
	}
	return raw, nil
}

// Quota returns the owner's plan, usage and limits for the account UI. The
// bundle-size figure is the owner's largest published capsule, zero when
// nothing is published yet.
func (s *Service) Quota(ctx context.Context, ownerID string) (*QuotaStatus, error) {
	account, err := s.ledger.Usage(ctx, ownerID)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load storage account", err, "")
	}
	largest, err := s.repo.LargestBundle(ctx, ownerID)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "measure largest bundle", err, "")
	}
	return &QuotaStatus{Account: account, LargestBundle: largest}, nil
}

// authorizeArtifactView hides artifacts whose backing capsule is quarantined
// from everyone but the capsule's owner. A missing capsule (mid-delete race)
// reads as absent too.
func (s *Service) authorizeArtifactView(ctx context.Context, record *artifact.Artifact, viewerID string) error {
	capsuleRecord, err := s.repo.GetByPublicID(ctx, record.CapsuleID)
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "load capsule", err, "")
	}
	if capsuleRecord == nil || (capsuleRecord.Quarantined && capsuleRecord.OwnerID != viewerID) {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound, fmt.Sprintf("artifact %s not found", record.ID), nil, "")
	}
	return nil
}

// collectArtifactBlobs gathers the ids and compiled-bundle keys of every
// artifact under a capsule, across all manifest versions.
func (s *Service) collectArtifactBlobs(ctx context.Context, capsuleID string) ([]string, []string, error) {
	records, err := s.artifacts.ListByCapsule(ctx, capsuleID)
	if err != nil {
		return nil, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "list capsule artifacts", err, "")
	}
	var ids, keys []string
	for _, record := range records {
		ids = append(ids, record.ID)
		versions, err := s.artifacts.ListManifests(ctx, record.ID)
		if err != nil {
			return nil, nil, platformerrors.NewError(ctx, platformerrors.LayerDomain,
				platformerrors.ErrorTypeDatabaseError, "list artifact manifests", err, "")
		}
		for _, version := range versions {
			keys = append(keys, version.BundleKey)
		}
	}
	return ids, keys, nil
}

func (s *Service) quotaError(ctx context.Context, err error) error {
	var tooLarge *quota.BundleTooLargeError
	var exceeded *quota.QuotaExceededError
	switch {
	case errors.As(err, &tooLarge):
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeBundleTooLarge, tooLarge.Error(), err, "")
	case errors.As(err, &exceeded):
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeQuotaExceeded, exceeded.Error(), err, "")
	case errors.Is(err, quota.ErrConflict):
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeConflict,
			"concurrent publishes contended for quota, retry the upload", err, "")
	default:
		return platformerrors.NewError(ctx, platformerrors.LayerDomain,
			platformerrors.ErrorTypeDatabaseError, "reserve storage quota", err, "")
	}
}

// manifestDocument reconstructs the runtime manifest for an artifact from
// its persisted rows. It must match what the compiler emitted at publish.
func (s *Service) manifestDocument(record *artifact.Artifact, version *artifact.ManifestVersion) sandbox.RuntimeManifest {
	return sandbox.RuntimeManifest{
		ArtifactID:     record.ID,
		Type:           string(record.Type),
		RuntimeVersion: record.RuntimeVersion,
		Version:        version.Version,
		RuntimeAssets: sandbox.RuntimeAssets{
			BridgeURL:        s.opts.Runtime.BridgeURL,
			GuardURL:         s.opts.Runtime.GuardURL,
			RuntimeScriptURL: s.opts.Runtime.RuntimeScriptURL,
		},
		Bundle: sandbox.BundleRef{
			R2Key:     version.BundleKey,
			SizeBytes: version.BundleSizeBytes,
			Digest:    version.BundleDigest,
		},
		Imports: version.Imports,
	}
}

func requestSize(files []File) int64 {
	var total int64
	for _, f := range files {
		total += int64(len(f.Content))
	}
	return total
}

func assetRows(files []File) []Asset {
	out := make([]Asset, len(files))
	for i, f := range files {
		out[i] = Asset{
			Path:      f.Path,
			MimeType:  mimetype.Detect(f.Content).String(),
			SizeBytes: int64(len(f.Content)),
		}
	}
	return out
}

func safetySources(files []File) []safety.SourceFile {
	out := make([]safety.SourceFile, len(files))
	for i, f := range files {
		out[i] = safety.SourceFile{Path: f.Path, Content: f.Content}
	}
	return out
}

func bundleFiles(files []File) []bundle.File {
	out := make([]bundle.File, len(files))
	for i, f := range files {
		out[i] = bundle.File{Path: f.Path, Content: f.Content}
	}
	return out
}

func compilerSourcesFromBundle(files []bundle.File) []artifact.SourceFile {
	out := make([]artifact.SourceFile, len(files))
	for i, f := range files {
		out[i] = artifact.SourceFile{Path: f.Path, Content: f.Content}
	}
	return out
}

func compilerSources(files []File) []artifact.SourceFile {
	out := make([]artifact.SourceFile, len(files))
	for i, f := range files {
		out[i] = artifact.SourceFile{Path: f.Path, Content: f.Content}
	}
	return out
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "policy violation"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
