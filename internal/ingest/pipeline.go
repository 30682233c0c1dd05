package ingest

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reelsonar/internal/accountindex"
	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/internal/resilience"
	"github.com/MrWong99/reelsonar/internal/search"
	"github.com/MrWong99/reelsonar/internal/topics"
	"github.com/MrWong99/reelsonar/internal/transcript"
	"github.com/MrWong99/reelsonar/internal/transcript/correct"
	"github.com/MrWong99/reelsonar/internal/umbrella"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/provider/source"
	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// Creator-level phases reported through [Hooks.Phase]. They double as job
// status values on the control plane.
const (
	PhaseFetchingMetadata = "fetching_metadata"
	PhaseFiltering        = "filtering"
	PhaseDownloading      = "downloading"
	PhaseExtractingTopics = "extracting_topics"
	PhaseEmbedding        = "embedding"
)

// Per-video statuses reported through [Hooks.Video].
const (
	VideoQueued          = "queued"
	VideoDownloading     = "downloading"
	VideoTranscribing    = "transcribing"
	VideoExtractingV1    = "extracting_v1"
	VideoExtractingV2    = "extracting_v2"
	VideoIndexing        = "indexing"
	VideoComplete        = "complete"
	VideoFailed          = "failed"
	VideoSkippedExisting = "skipped_existing"
	VideoSkippedNoSpeech = "skipped_no_speech"
	VideoSkippedDuration = "skipped_duration"
)

// defaultMinSpeechChars is the transcript length below which a video counts
// as having no usable speech.
const defaultMinSpeechChars = 50

// VideoUpdate is one per-video progress event.
type VideoUpdate struct {
	VideoID     string
	Title       string
	Status      string
	Step        string
	ProgressPct float64
	Error       string
}

// Hooks lets the job layer observe and steer a pipeline run. All fields are
// optional; nil hooks are no-ops and a nil Gate never suspends.
type Hooks struct {
	// Phase is called when the creator-level phase changes.
	Phase func(phase string)

	// Totals is called once, after metadata listing and filtering.
	Totals func(totalFound, filtered int)

	// Video is called after every per-video state transition.
	Video func(u VideoUpdate)

	// Gate is the suspension point, called before each per-video state
	// transition and before account-level steps. It blocks while the job
	// is paused and returns a non-nil error when the run must stop.
	Gate func(ctx context.Context) error
}

func (h Hooks) normalized() Hooks {
	if h.Phase == nil {
		h.Phase = func(string) {}
	}
	if h.Totals == nil {
		h.Totals = func(int, int) {}
	}
	if h.Video == nil {
		h.Video = func(VideoUpdate) {}
	}
	if h.Gate == nil {
		h.Gate = func(context.Context) error { return nil }
	}
	return h
}

// AccountResult summarises one creator's run.
type AccountResult struct {
	Creator    string
	TotalFound int
	Filtered   int
	Processed  int
	Skipped    int
	Failed     int
}

// PipelineConfig wires a Pipeline. Source, Transcriber, Embed, the stores,
// Extractor, Classifier, Umbrellas, and Search are required; the rest have
// working defaults.
type PipelineConfig struct {
	Source      source.Provider
	Transcriber transcriber.Provider
	Embed       embeddings.Provider

	Accounts    *accountindex.Store
	Transcripts *transcript.Store
	Topics      *topics.Store

	Extractor  *topics.Extractor
	Classifier *topics.Classifier
	Umbrellas  *umbrella.Builder
	Search     *search.Engine

	// Corrector applies vocabulary correction to low-confidence
	// transcripts. Nil disables correction.
	Corrector *correct.Corrector

	// Rules returns the current canonicalisation rule snapshot. Each
	// extraction uses the snapshot taken at its start. Nil means no rules.
	Rules func() *config.Rules

	// Retry wraps provider calls. The zero value uses the policy defaults.
	Retry resilience.Policy

	// Breaker guards the source provider. Nil disables the breaker.
	Breaker *resilience.CircuitBreaker

	// MinSpeechChars is the no-speech threshold. Zero means 50.
	MinSpeechChars int

	// VideoWorkers bounds concurrent videos per creator. Zero means 1,
	// the safe default while transcription is compute-bound.
	VideoWorkers int

	// WorkDir holds temporary audio downloads. Empty means os.TempDir.
	WorkDir string

	Metrics *observe.Metrics
}

// Pipeline processes creators end to end. Safe for concurrent Run calls as
// long as no two concurrent runs target the same creator.
type Pipeline struct {
	cfg PipelineConfig
}

// NewPipeline returns a Pipeline over the given wiring.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.MinSpeechChars <= 0 {
		cfg.MinSpeechChars = defaultMinSpeechChars
	}
	if cfg.VideoWorkers <= 0 {
		cfg.VideoWorkers = 1
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Rules == nil {
		cfg.Rules = func() *config.Rules { return nil }
	}
	return &Pipeline{cfg: cfg}
}

// Run drives one creator through the full pipeline. The returned error is
// creator-fatal: metadata listing failed, the account index could not be
// updated, or the run was cancelled through the gate. Per-video failures are
// counted in the result instead.
func (p *Pipeline) Run(ctx context.Context, creator string, f Filters, s Settings, hooks Hooks) (*AccountResult, error) {
	creator = types.NormalizeHandle(creator)
	hooks = hooks.normalized()
	res := &AccountResult{Creator: creator}
	if err := f.Validate(); err != nil {
		return res, err
	}
	if err := s.Validate(); err != nil {
		return res, err
	}
	log := observe.Logger(ctx).With("creator", creator)

	if err := hooks.Gate(ctx); err != nil {
		return res, err
	}

	// required_category is lazy: it only applies once a category is known.
	if f.RequiredCategory != "" {
		if cat, err := p.cfg.Topics.ReadCategory(creator); err == nil &&
			!strings.EqualFold(cat.Category, f.RequiredCategory) {
			log.Info("creator skipped by required_category",
				"have", cat.Category, "want", f.RequiredCategory)
			return res, nil
		}
	}

	hooks.Phase(PhaseFetchingMetadata)
	videos, err := p.listVideos(ctx, creator)
	if err != nil {
		return res, err
	}
	res.TotalFound = len(videos)

	hooks.Phase(PhaseFiltering)
	filtered := f.Prefilter(videos)
	res.Filtered = len(filtered)
	hooks.Totals(res.TotalFound, res.Filtered)
	log.Info("metadata fetched", "total_found", res.TotalFound, "filtered", res.Filtered)

	existing, err := p.cfg.Accounts.Load(creator)
	if err != nil {
		return res, err
	}

	hooks.Phase(PhaseDownloading)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.VideoWorkers)
	for _, v := range filtered {
		g.Go(func() error {
			if err := hooks.Gate(gctx); err != nil {
				return err
			}
			p.cfg.Metrics.ActiveVideoWorkers.Add(gctx, 1)
			outcome := p.processVideo(gctx, creator, v, existing.ProcessedVideos[v.ID], f, s, hooks)
			p.cfg.Metrics.ActiveVideoWorkers.Add(gctx, -1)

			mu.Lock()
			switch outcome.status {
			case VideoComplete:
				res.Processed++
			case VideoFailed:
				res.Failed++
			default:
				res.Skipped++
			}
			mu.Unlock()

			if outcome.err != nil && faults.KindOf(outcome.err).FailsCreator() {
				return outcome.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	if err := hooks.Gate(ctx); err != nil {
		return res, err
	}
	p.finishAccount(ctx, creator, hooks)

	if err := p.cfg.Accounts.RecordRun(creator, res.TotalFound, res.Skipped); err != nil {
		return res, faults.Wrap(faults.IndexWrite, "ingest: record run "+creator, err)
	}
	log.Info("creator finished",
		"processed", res.Processed, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// listVideos fetches the creator's metadata through the retry policy and,
// when configured, the source circuit breaker.
func (p *Pipeline) listVideos(ctx context.Context, creator string) ([]types.VideoMeta, error) {
	var videos []types.VideoMeta
	err := p.cfg.Retry.Do(ctx, "ingest: list videos", func(ctx context.Context) error {
		return p.withBreaker(func() error {
			var lerr error
			videos, lerr = p.cfg.Source.ListVideos(ctx, creator)
			return lerr
		})
	})
	status := "ok"
	if err != nil {
		status = "error"
		p.cfg.Metrics.RecordProviderError(ctx, p.cfg.Source.Platform(), string(faults.KindOf(err)))
	}
	p.cfg.Metrics.RecordProviderRequest(ctx, p.cfg.Source.Platform(), "list_videos", status)
	return videos, err
}

// withBreaker routes fn through the source circuit breaker when one is
// configured. An open breaker surfaces as a transient network fault so the
// retry policy backs off instead of giving up immediately.
func (p *Pipeline) withBreaker(fn func() error) error {
	if p.cfg.Breaker == nil {
		return fn()
	}
	err := p.cfg.Breaker.Execute(fn)
	if err == resilience.ErrCircuitOpen {
		return faults.Wrap(faults.Network, "ingest: source breaker open", err)
	}
	return err
}

// videoOutcome is the terminal state of one video's processing.
type videoOutcome struct {
	status string
	err    error
}

// Per-video progress weights. Completion of a stage advances the bar to
// its weight.
var stageProgress = map[string]float64{
	VideoQueued:       0,
	VideoDownloading:  20,
	VideoTranscribing: 55,
	VideoExtractingV1: 65,
	VideoExtractingV2: 75,
	VideoIndexing:     90,
	VideoComplete:     100,
}

func (p *Pipeline) processVideo(ctx context.Context, creator string, v types.VideoMeta, prior accountindex.VideoRecord, f Filters, s Settings, hooks Hooks) videoOutcome {
	log := observe.Logger(ctx).With("creator", creator, "video_id", v.ID)
	publish := func(status, step string, errText string) {
		hooks.Video(VideoUpdate{
			VideoID:     v.ID,
			Title:       v.Title,
			Status:      status,
			Step:        step,
			ProgressPct: stageProgress[status],
			Error:       errText,
		})
	}
	skip := func(status, reason string) videoOutcome {
		log.Info("video skipped", "reason", reason)
		publish(status, reason, "")
		p.cfg.Metrics.RecordVideoOutcome(ctx, "skipped")
		return videoOutcome{status: status}
	}
	fail := func(err error, step string) videoOutcome {
		kind := faults.KindOf(err)
		log.Warn("video failed", "step", step, "kind", kind, "error", err)
		if cerr := p.cfg.Accounts.Commit(creator, accountindex.VideoRecord{
			VideoID:     v.ID,
			Title:       v.Title,
			DurationSec: v.DurationSec,
			URL:         v.URL,
			ProcessedAt: time.Now().UTC(),
			Success:     false,
			ErrorKind:   string(kind),
		}); cerr != nil {
			log.Error("failed-record commit failed", "error", cerr)
			err = faults.Wrap(faults.IndexWrite, "ingest: commit failure record", cerr)
		}
		publish(VideoFailed, step, err.Error())
		p.cfg.Metrics.RecordVideoOutcome(ctx, "failed")
		return videoOutcome{status: VideoFailed, err: err}
	}

	publish(VideoQueued, "", "")

	// Idempotency gate.
	if prior.VideoID != "" && s.SkipExistingEnabled() {
		redrive := s.RetranscribeLowConfidence && prior.Success &&
			prior.Confidence < LowConfidenceThreshold
		if !redrive {
			return skip(VideoSkippedExisting, "already processed")
		}
		log.Info("re-driving low-confidence video", "confidence", prior.Confidence)
	}
	if s.MaxDurationMinutes > 0 && v.DurationSec > s.MaxDurationMinutes*60 {
		return skip(VideoSkippedDuration, "exceeds max_duration_minutes")
	}

	// Download.
	if err := hooks.Gate(ctx); err != nil {
		return videoOutcome{status: VideoQueued, err: err}
	}
	publish(VideoDownloading, "downloading audio", "")
	dlStart := time.Now()
	workDir, err := os.MkdirTemp(p.cfg.WorkDir, "reelsonar-audio-*")
	if err != nil {
		return fail(faults.Wrap(faults.Internal, "ingest: create work dir", err), VideoDownloading)
	}
	defer os.RemoveAll(workDir)

	var audioPath string
	err = p.cfg.Retry.Do(ctx, "ingest: download audio", func(ctx context.Context) error {
		return p.withBreaker(func() error {
			var derr error
			audioPath, derr = p.cfg.Source.DownloadAudio(ctx, creator, v, workDir)
			return derr
		})
	})
	if err != nil {
		p.cfg.Metrics.RecordProviderError(ctx, p.cfg.Source.Platform(), string(faults.KindOf(err)))
		return fail(err, VideoDownloading)
	}
	p.cfg.Metrics.RecordStage(ctx, "download", time.Since(dlStart))

	// Transcribe.
	if err := hooks.Gate(ctx); err != nil {
		return videoOutcome{status: VideoDownloading, err: err}
	}
	publish(VideoTranscribing, "transcribing audio", "")
	trStart := time.Now()
	var tr *types.Transcript
	err = p.cfg.Retry.Do(ctx, "ingest: transcribe", func(ctx context.Context) error {
		var terr error
		tr, terr = p.cfg.Transcriber.Transcribe(ctx, audioPath, s.Tier())
		return terr
	})
	if err != nil {
		return fail(err, VideoTranscribing)
	}
	p.cfg.Metrics.RecordStage(ctx, "transcribe", time.Since(trStart))

	body := strings.TrimSpace(tr.Text)
	header := transcript.Header{
		Creator:       creator,
		VideoID:       v.ID,
		Title:         v.Title,
		URL:           v.URL,
		DurationSec:   v.DurationSec,
		Language:      tr.Language,
		ModelID:       tr.ModelID,
		Confidence:    tr.Confidence,
		TranscribedAt: time.Now().UTC(),
	}

	// No-speech exit: the artifact and a success record are still written
	// so the next run skips the video instead of re-downloading it.
	if len(body) < p.cfg.MinSpeechChars {
		path, werr := p.cfg.Transcripts.Write(creator, v.ID, header, body, nil)
		if werr != nil {
			return fail(werr, VideoTranscribing)
		}
		if cerr := p.commitSuccess(creator, v, path, body, tr.Confidence); cerr != nil {
			return fail(cerr, VideoTranscribing)
		}
		return skip(VideoSkippedNoSpeech, "transcript below speech minimum")
	}

	// Optional vocabulary correction.
	if p.cfg.Corrector != nil && p.cfg.Corrector.ShouldCorrect(*tr) {
		if vocab := p.accountVocabulary(creator); len(vocab) > 0 {
			if cres, cerr := p.cfg.Corrector.Correct(ctx, *tr, vocab); cerr != nil {
				log.Warn("transcript correction failed", "error", cerr)
			} else if len(cres.Corrections) > 0 {
				body = cres.Text
				for _, c := range cres.Corrections {
					header.Corrections = append(header.Corrections, transcript.Correction{
						Original:   c.Original,
						Corrected:  c.Corrected,
						Confidence: c.Confidence,
						Method:     c.Method,
					})
				}
				log.Info("transcript corrected", "substitutions", len(cres.Corrections))
			}
		}
	}

	var sentences []types.Sentence
	if len(tr.Segments) == 0 && v.DurationSec > 0 {
		sentences = transcript.ProportionalSentences(body, v.DurationSec)
	} else {
		sentences = transcript.SentencesFor(body, tr.Segments)
	}

	path, err := p.cfg.Transcripts.Write(creator, v.ID, header, body, sentences)
	if err != nil {
		return fail(err, VideoTranscribing)
	}

	// Topic extraction. A failure here degrades the video to
	// transcript-only instead of failing it.
	if err := hooks.Gate(ctx); err != nil {
		return videoOutcome{status: VideoTranscribing, err: err}
	}
	publish(VideoExtractingV1, "extracting topics", "")
	exStart := time.Now()
	var records []types.TopicRecord
	extracted, err := p.cfg.Extractor.Extract(ctx, topics.Input{
		Creator:   creator,
		Video:     v,
		Body:      body,
		Sentences: sentences,
		Rules:     p.cfg.Rules(),
	})
	if err != nil {
		log.Warn("topic extraction failed, indexing without topics", "error", err)
	} else {
		records = extracted.Records
		if werr := p.cfg.Topics.WriteLegacyTags(creator, v.ID, topics.V1File{
			Creator:     creator,
			VideoID:     v.ID,
			ExtractedAt: time.Now().UTC(),
			Tags:        extracted.Legacy,
		}); werr != nil {
			log.Warn("legacy tag write failed", "error", werr)
		}
		publish(VideoExtractingV2, "selecting topics", "")
		if werr := p.cfg.Topics.WriteVideoTopics(creator, v.ID, topics.V2File{
			Creator:     creator,
			VideoID:     v.ID,
			ExtractedAt: time.Now().UTC(),
			EmbedModel:  p.cfg.Embed.ModelID(),
			NLPEngine:   p.cfg.Extractor.EngineID(),
			Topics:      records,
		}); werr != nil {
			return fail(werr, VideoExtractingV2)
		}
	}
	p.cfg.Metrics.RecordStage(ctx, "extract_topics", time.Since(exStart))

	// required_tags drops the video from the search index only; the
	// transcript and topic artifacts above stay.
	indexable := matchesRequiredTags(records, f.RequiredTags)

	if indexable {
		if err := hooks.Gate(ctx); err != nil {
			return videoOutcome{status: VideoExtractingV2, err: err}
		}
		publish(VideoIndexing, "indexing segments", "")
		ixStart := time.Now()
		artifact := &transcript.Artifact{Header: header, Body: body, Sentences: sentences}
		if _, err := p.cfg.Search.IndexTranscript(ctx, creator, v.ID, artifact, v); err != nil {
			return fail(err, VideoIndexing)
		}
		p.cfg.Metrics.RecordStage(ctx, "index", time.Since(ixStart))
	} else {
		log.Info("video not indexed", "reason", "required_tags not matched")
	}

	if err := p.commitSuccess(creator, v, path, body, tr.Confidence); err != nil {
		return fail(err, VideoIndexing)
	}
	publish(VideoComplete, "", "")
	p.cfg.Metrics.RecordVideoOutcome(ctx, "complete")
	return videoOutcome{status: VideoComplete}
}

// commitSuccess writes the video's success record. A failure is an
// index-write fault, which aborts the creator.
func (p *Pipeline) commitSuccess(creator string, v types.VideoMeta, path, body string, confidence float64) error {
	err := p.cfg.Accounts.Commit(creator, accountindex.VideoRecord{
		VideoID:               v.ID,
		Title:                 v.Title,
		DurationSec:           v.DurationSec,
		URL:                   v.URL,
		ProcessedAt:           time.Now().UTC(),
		Success:               true,
		TranscriptPath:        path,
		TranscriptLengthChars: len(body),
		Confidence:            confidence,
	})
	return faults.Wrap(faults.IndexWrite, "ingest: commit video record", err)
}

// finishAccount recomputes the creator-level artifacts: tag aggregation,
// category, and umbrellas. All three are deterministic over the stored
// per-video topics and safe to re-run, so failures log and move on.
func (p *Pipeline) finishAccount(ctx context.Context, creator string, hooks Hooks) {
	log := observe.Logger(ctx).With("creator", creator)
	hooks.Phase(PhaseExtractingTopics)

	perVideo, err := p.cfg.Topics.ListVideoTopics(creator)
	if err != nil {
		log.Warn("listing video topics failed, skipping account aggregation", "error", err)
		return
	}
	if len(perVideo) == 0 {
		return
	}
	aggregates := topics.Aggregate(perVideo)
	if err := p.cfg.Topics.WriteAccountTags(creator, topics.AccountTagsFile{
		Creator:     creator,
		GeneratedAt: time.Now().UTC(),
		Tags:        aggregates,
	}); err != nil {
		log.Warn("account tag write failed", "error", err)
	}

	hooks.Phase(PhaseEmbedding)
	top := make([]string, 0, len(aggregates))
	for _, a := range aggregates {
		top = append(top, a.Canonical)
	}

	if assignment, err := p.cfg.Classifier.Classify(ctx, top, nil); err != nil {
		log.Warn("category classification failed", "error", err)
	} else if err := p.cfg.Topics.WriteCategory(creator, topics.CategoryFile{
		Creator:            creator,
		CategoryAssignment: assignment,
	}); err != nil {
		log.Warn("category write failed", "error", err)
	}

	vecs, err := p.cfg.Embed.EmbedBatch(ctx, top)
	if err != nil {
		log.Warn("umbrella embedding failed", "error", err)
		return
	}
	uts := make([]umbrella.Topic, len(aggregates))
	for i, a := range aggregates {
		uts[i] = umbrella.Topic{
			Canonical: a.Canonical,
			Frequency: a.Frequency,
			VideoIDs:  a.VideoIDs,
			Vec:       vecs[i],
		}
	}
	clusters := p.cfg.Umbrellas.Build(uts)
	if err := p.cfg.Topics.WriteUmbrellas(creator, topics.UmbrellaFile{
		Creator:     creator,
		GeneratedAt: time.Now().UTC(),
		Umbrellas:   clusters,
		Threshold:   p.cfg.Umbrellas.Threshold(),
		Method:      string(p.cfg.Umbrellas.Method()),
	}); err != nil {
		log.Warn("umbrella write failed", "error", err)
	}
	log.Info("account artifacts refreshed",
		"canonical_topics", len(aggregates), "umbrellas", len(clusters))
}

// accountVocabulary is the creator's canonical topics, used as the
// correction vocabulary.
func (p *Pipeline) accountVocabulary(creator string) []string {
	f, err := p.cfg.Topics.ReadAccountTags(creator)
	if err != nil {
		return nil
	}
	vocab := make([]string, 0, len(f.Tags))
	for _, t := range f.Tags {
		vocab = append(vocab, t.Canonical)
	}
	return vocab
}

// matchesRequiredTags reports whether the records contain at least one of
// the required tags (raw or canonical, case-insensitive). An empty
// requirement matches everything.
func matchesRequiredTags(records []types.TopicRecord, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range records {
		for _, want := range required {
			w := strings.ToLower(strings.TrimSpace(want))
			if strings.ToLower(r.Tag) == w || strings.ToLower(r.Canonical) == w {
				return true
			}
		}
	}
	return false
}
