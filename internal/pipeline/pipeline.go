// Package pipeline runs one migration: discovery, parsing, extraction,
// escalation, IR construction, code generation and the atomic write of the
// generated files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/DeusData/lg2jiuwen/internal/codegen"
	"github.com/DeusData/lg2jiuwen/internal/config"
	"github.com/DeusData/lg2jiuwen/internal/discover"
	"github.com/DeusData/lg2jiuwen/internal/escalate"
	"github.com/DeusData/lg2jiuwen/internal/extract"
	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/logging"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
	"github.com/DeusData/lg2jiuwen/internal/report"
	"github.com/DeusData/lg2jiuwen/internal/store"
)

// Result summarises a finished run.
type Result struct {
	RunID     string         `json:"run_id,omitempty"`
	Agent     string         `json:"agent"`
	Layout    codegen.Layout `json:"layout"`
	OutputDir string         `json:"output_dir"`
	// Files are the generated paths relative to OutputDir, in write order.
	Files []string `json:"files"`
	// Unchanged lists the files whose content already matched on disk.
	Unchanged    []string `json:"unchanged"`
	Warnings     []string `json:"warnings"`
	ManualTasks  []string `json:"manual_tasks"`
	RuleCount    int      `json:"rule_count"`
	AICount      int      `json:"ai_count"`
	SourceDigest string   `json:"source_digest"`
}

// Pipeline migrates LangGraph sources with a fixed configuration.
type Pipeline struct {
	ctx    context.Context
	cfg    *config.Config
	client escalate.Client
	store  *store.Store
	logger *slog.Logger
}

// New returns a Pipeline. client may be nil, in which case every construct
// the rules cannot convert gets an annotated placeholder. st may be nil to
// skip run history.
func New(ctx context.Context, cfg *config.Config, client escalate.Client, st *store.Store) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Pipeline{
		ctx:    ctx,
		cfg:    cfg,
		client: client,
		store:  st,
		logger: logging.New("pipeline"),
	}
}

// checkCancel returns ctx.Err() if the pipeline's context has been cancelled.
func (p *Pipeline) checkCancel() error {
	return p.ctx.Err()
}

// pass runs one stage, logs its timing and checks for cancellation.
func (p *Pipeline) pass(name string, fn func() error) error {
	t := time.Now()
	if err := fn(); err != nil {
		return err
	}
	p.logger.Info("pass.timing", "pass", name, "elapsed", time.Since(t))
	return p.checkCancel()
}

// run holds the state threaded through the stages of one Run.
type run struct {
	source   string
	project  *discover.Project
	contents map[string][]byte
	loadErrs []error
	digest   string
	set      *parser.ParseSet
	res      *model.ExtractionResult
	m        *ir.MigrationIR
	layout   codegen.Layout
	files    []codegen.File
	outDir   string
	written  []string
	skipped  []string
}

// Run migrates source, a Python file or a project directory. Nothing is
// written unless every stage succeeds.
func (p *Pipeline) Run(source string) (*Result, error) {
	start := time.Now()
	p.logger.Info("pipeline.start", "source", source)
	if err := p.checkCancel(); err != nil {
		return nil, err
	}

	r := &run{source: source}
	defer func() {
		if r.set != nil {
			r.set.Close()
		}
	}()

	err := p.stages(r)
	if err != nil {
		p.logger.Warn("pipeline.failed", "source", source, "err", err)
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.recordFailure(r, err)
		}
		return nil, err
	}

	res := p.result(r)
	if p.store != nil {
		if err := p.save(r, res); err != nil {
			// History is best effort; the files are already in place.
			p.logger.Warn("store.save", "err", err)
		}
	}
	p.logger.Info("pipeline.done", "agent", res.Agent, "files", len(res.Files),
		"written", len(r.written), "rule", res.RuleCount, "ai", res.AICount, "elapsed", time.Since(start))
	return res, nil
}

func (p *Pipeline) stages(r *run) error {
	if err := p.pass("discover", func() error { return p.discover(r) }); err != nil {
		return err
	}
	if err := p.pass("load", func() error { return p.load(r) }); err != nil {
		return err
	}
	if err := p.pass("parse", func() error { return p.parse(r) }); err != nil {
		return err
	}
	if err := p.pass("extract", func() error { return p.extract(r) }); err != nil {
		return err
	}
	if err := p.pass("escalate", func() error { return p.escalate(r) }); err != nil {
		return err
	}
	if err := p.pass("ir", func() error { return p.build(r) }); err != nil {
		return err
	}
	if err := p.pass("codegen", func() error { return p.generate(r) }); err != nil {
		return err
	}
	if err := p.pass("report", func() error { return p.artifacts(r) }); err != nil {
		return err
	}
	return p.pass("write", func() error { return p.write(r) })
}

func (p *Pipeline) discover(r *run) error {
	proj, err := discover.Detect(p.ctx, r.source, &discover.Options{Ignore: p.cfg.Discover.Ignore})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	r.project = proj
	p.logger.Info("pipeline.discovered", "root", proj.Root, "files", len(proj.Files), "multi", proj.IsMultiFile)
	return nil
}

func (p *Pipeline) load(r *run) error {
	contents, errs := discover.Load(p.ctx, r.project.Files)
	if err := p.checkCancel(); err != nil {
		return err
	}
	for _, err := range errs {
		p.logger.Warn("load.error", "err", err)
	}
	if len(contents) == 0 {
		if len(errs) > 0 {
			return fmt.Errorf("load: %w: %v", model.ErrAllFilesFailed, errs[0])
		}
		return fmt.Errorf("load: %w", model.ErrAllFilesFailed)
	}
	r.contents = contents
	r.loadErrs = errs
	r.digest = sourceDigest(contents)
	return nil
}

func (p *Pipeline) rootName(r *run) string {
	if !r.project.IsMultiFile {
		return ""
	}
	return filepath.Base(r.project.Root)
}

func (p *Pipeline) parse(r *run) error {
	set, err := parser.ParseSources(r.contents, discover.Order(r.contents, p.rootName(r)))
	r.set = set
	return err
}

func (p *Pipeline) extract(r *run) error {
	res, err := extract.Extract(p.ctx, r.set, extract.Options{RootName: p.rootName(r)})
	if err != nil {
		return err
	}
	for _, e := range r.loadErrs {
		res.Warn(e.Error())
	}
	r.res = res
	return nil
}

func (p *Pipeline) escalate(r *run) error {
	known := r.res.KnownKeys()
	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var client escalate.Client
	if p.cfg.AI.Enabled {
		client = p.client
	}
	esc := escalate.New(client, escalate.Config{
		Timeout:     p.cfg.AI.Timeout,
		Concurrency: p.cfg.AI.Concurrency,
		KnownKeys:   keys,
	})
	_, warnings, err := escalate.Drain(p.ctx, r.res.Pending, esc)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		r.res.Warn(w.Error())
	}
	return r.res.AdoptResolved()
}

func (p *Pipeline) build(r *run) error {
	var sources []string
	for _, u := range r.set.Ordered() {
		sources = append(sources, u.Path)
	}
	m, err := ir.Build(r.res, ir.Options{Name: p.cfg.Output.Name, SourceFiles: sources})
	if err != nil {
		return fmt.Errorf("ir: %w", err)
	}
	r.m = m
	return nil
}

func (p *Pipeline) generate(r *run) error {
	layout, err := codegen.ParseLayout(p.cfg.ResolveLayout(r.project.IsMultiFile))
	if err != nil {
		return err
	}
	out, err := codegen.New(codegen.WithLayout(layout)).Generate(r.m)
	if err != nil {
		return err
	}
	r.layout = layout
	r.files = out.Files
	return nil
}

// artifacts appends the IR dump and the report to the generated files.
func (p *Pipeline) artifacts(r *run) error {
	slug := ir.Slug(r.m.Agent.Name)
	if p.cfg.Output.IR {
		data, err := codegen.DumpIR(r.m)
		if err != nil {
			return fmt.Errorf("ir dump: %w", err)
		}
		r.files = append(r.files, codegen.File{Path: slug + "_ir.json", Content: string(data)})
	}
	if p.cfg.Output.Report {
		name := slug + "_report.md"
		paths := make([]string, 0, len(r.files)+1)
		for _, f := range r.files {
			paths = append(paths, f.Path)
		}
		paths = append(paths, name)
		r.files = append(r.files, codegen.File{
			Path:    name,
			Content: report.Render(r.res, r.m, paths, r.digest),
		})
	}
	return nil
}

func (p *Pipeline) write(r *run) error {
	dir, err := filepath.Abs(p.cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	r.outDir = dir
	r.written, r.skipped, err = writeFiles(p.ctx, dir, r.files)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (p *Pipeline) result(r *run) *Result {
	res := &Result{
		Agent:        r.m.Agent.Name,
		Layout:       r.layout,
		OutputDir:    r.outDir,
		Unchanged:    r.skipped,
		Warnings:     r.m.Warnings,
		ManualTasks:  report.Checklist(r.res),
		RuleCount:    r.res.RuleCount,
		AICount:      r.res.AICount,
		SourceDigest: r.digest,
	}
	for _, f := range r.files {
		res.Files = append(res.Files, f.Path)
	}
	return res
}

func (p *Pipeline) save(r *run, res *Result) error {
	arts := make([]store.Artifact, len(r.files))
	for i, f := range r.files {
		arts[i] = store.Artifact{Path: f.Path, Content: f.Content, Digest: contentDigest([]byte(f.Content))}
	}
	rec := &store.Run{
		SourcePath: absOr(r.source),
		OutputDir:  res.OutputDir,
		Agent:      res.Agent,
		Layout:     string(res.Layout),
		Digest:     res.SourceDigest,
		RuleCount:  res.RuleCount,
		AICount:    res.AICount,
		Status:     store.StatusOK,
		Warnings:   res.Warnings,
	}
	if err := p.store.SaveRun(rec, arts); err != nil {
		return err
	}
	res.RunID = rec.ID
	return nil
}

// recordFailure stores a failed run without artifacts.
func (p *Pipeline) recordFailure(r *run, cause error) {
	if p.store == nil {
		return
	}
	rec := &store.Run{
		SourcePath: absOr(r.source),
		OutputDir:  p.cfg.Output.Dir,
		Digest:     r.digest,
		Status:     store.StatusFailed,
		Warnings:   []string{cause.Error()},
	}
	if r.m != nil {
		rec.Agent = r.m.Agent.Name
	}
	if err := p.store.SaveRun(rec, nil); err != nil {
		p.logger.Warn("store.save", "err", err)
	}
}

func absOr(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
