/*
	Copyright 2023 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

		https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package pipeline runs work items through a linear sequence of concurrent
// stages.
//
// A pipeline comprises a single producer followed by one or more stages.  The
// producer originates work items and puts them into the pipeline; each stage
// takes a work item, works on it, and hands it to the next stage.  Work items
// are exclusively owned by whichever stage instance holds them, so stages
// need no locking to mutate them.
//
// Producers may recycle work items that have left the end of the pipeline.
// findloops uses this to reuse suffix tree builders, whose arenas are
// expensive to grow, across the sequences of a trace: a RecyclingProducerFn
// calls `get` for a retired work item and only allocates a new one when `get`
// returns false.
//
// Run a pipeline with Do.  Measure behaves like Do but also reports the time
// spent in each stage; SequentialDo runs every work item through all stages
// on the calling goroutine, ignoring buffering and concurrency options.
//
// The wall time of a pipeline is bounded below by its slowest stage.  When a
// stage can safely work on several items at once, raise its Concurrency; when
// stages take uneven time per item, raise InputBufferSize so they do not run
// in lockstep.
package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProducerFn puts new work items of type T into the pipeline with `put`.
// Production is complete when it returns; a non-nil error terminates the
// pipeline.
type ProducerFn[T any] func(put func(T)) error

// RecyclingProducerFn is like ProducerFn, but may obtain retired work items
// with the non-blocking `get` before allocating new ones.  Recycled items may
// need to be reset before they are put.
type RecyclingProducerFn[T any] func(get func() (T, bool), put func(T)) error

// StageFn works on a single work item and returns it, or another instance of
// T reflecting the work done.  A non-nil error terminates the pipeline.
type StageFn[T any] func(in T) (out T, err error)

// StageOptionFn defines a user-supplied option to a Producer or a Stage.
type StageOptionFn func(so *stageOptions) error

// InputBufferSize sets the number of work items that may wait in front of a
// Stage.  For recycling Producers it sizes the pool of retired items.
// Defaults to 1.
func InputBufferSize(inputBufferSize uint) StageOptionFn {
	return func(so *stageOptions) error {
		if inputBufferSize == 0 {
			return fmt.Errorf("input buffer size must be at least 1")
		}
		so.inputBufferSize = inputBufferSize
		return nil
	}
}

// Name names a Stage or Producer in Metrics.  Unnamed stages are numbered,
// the Producer being stage 0.
func Name(name string) StageOptionFn {
	return func(so *stageOptions) error {
		so.name = name
		return nil
	}
}

// Concurrency sets the number of goroutines performing a Stage or Producer.
func Concurrency(concurrency uint) StageOptionFn {
	return func(so *stageOptions) error {
		if concurrency == 0 {
			return fmt.Errorf("concurrency must be at least 1")
		}
		so.concurrency = concurrency
		return nil
	}
}

// Producer defines a function building a pipeline producer.
type Producer[T any] func(index uint) (*producer[T], error)

// NewRecyclingProducer defines the producer of a pipeline whose work items
// are returned to it after the last stage.
func NewRecyclingProducer[T any](fn RecyclingProducerFn[T], optFns ...StageOptionFn) Producer[T] {
	return func(index uint) (*producer[T], error) {
		opts, err := buildStageOptions(index, optFns...)
		if err != nil {
			return nil, err
		}
		return newP(true, fn, opts), nil
	}
}

// NewProducer defines the producer of a pipeline whose work items are
// discarded after the last stage.
func NewProducer[T any](fn ProducerFn[T], optFns ...StageOptionFn) Producer[T] {
	return func(index uint) (*producer[T], error) {
		opts, err := buildStageOptions(index, optFns...)
		if err != nil {
			return nil, err
		}
		return newP(false, func(_ func() (T, bool), put func(T)) error {
			return fn(put)
		}, opts), nil
	}
}

// Stage defines a function building a pipeline stage.
type Stage[T any] func(index uint) (*stage[T], error)

// NewStage defines a stage working on items of type T.
func NewStage[T any](fn StageFn[T], optFns ...StageOptionFn) Stage[T] {
	return func(index uint) (*stage[T], error) {
		opts, err := buildStageOptions(index, optFns...)
		if err != nil {
			return nil, err
		}
		return newS(fn, opts), nil
	}
}

// Do runs the pipeline defined by the Producer and Stages concurrently.
// Each work item visits the Stages in the order given.
func Do[T any](producerDef Producer[T], stageDefs ...Stage[T]) error {
	p, err := newPipeline(producerDef, stageDefs...)
	if err != nil {
		return err
	}
	return p.do()
}

// Measure behaves like Do, but also measures the time spent in each stage.
func Measure[T any](producerDef Producer[T], stageDefs ...Stage[T]) (*Metrics, error) {
	p, err := newPipeline(producerDef, stageDefs...)
	if err != nil {
		return nil, err
	}
	return p.measure()
}

// SequentialDo behaves like Do, but runs on the calling goroutine.  A
// recycling Producer recycles its single in-flight work item.
func SequentialDo[T any](producerDef Producer[T], stageDefs ...Stage[T]) error {
	p, err := newPipeline(producerDef, stageDefs...)
	if err != nil {
		return err
	}
	return p.sequentialDo()
}

// StageMetrics holds the performance of one instance of a stage.
type StageMetrics struct {
	StageName                   string
	StageInstance               uint
	WorkDuration, StageDuration time.Duration
	Items                       uint
}

func (sm *StageMetrics) label() string {
	return fmt.Sprintf("%s (%d)", sm.StageName, sm.StageInstance)
}

func (sm *StageMetrics) detailRow(labelCols int) string {
	if sm.Items == 0 {
		return fmt.Sprintf("%-*s: 0 items, total %s, work %s", labelCols, sm.label(), sm.StageDuration, sm.WorkDuration)
	}
	return fmt.Sprintf("%-*s: %d items, total %s (%s/item), work %s (%s/item)",
		labelCols, sm.label(), sm.Items,
		sm.StageDuration, sm.StageDuration/time.Duration(sm.Items),
		sm.WorkDuration, sm.WorkDuration/time.Duration(sm.Items),
	)
}

// Metrics holds the performance of an entire pipeline run.
type Metrics struct {
	WallDuration    time.Duration
	ProducerMetrics []*StageMetrics
	StageMetrics    [][]*StageMetrics
}

func (pm *Metrics) all() []*StageMetrics {
	ret := append([]*StageMetrics{}, pm.ProducerMetrics...)
	for _, stageMetrics := range pm.StageMetrics {
		ret = append(ret, stageMetrics...)
	}
	return ret
}

func (pm *Metrics) String() string {
	if pm == nil {
		return ""
	}
	labelCols := 0
	for _, sm := range pm.all() {
		labelCols = max(labelCols, len(sm.label()))
	}
	ret := []string{fmt.Sprintf("Pipeline wall time: %s", pm.WallDuration)}
	for _, sm := range pm.all() {
		ret = append(ret, "  "+sm.detailRow(labelCols))
	}
	return strings.Join(ret, "\n")
}

// Log writes one entry per stage instance to logger.
func (pm *Metrics) Log(logger *zap.Logger) {
	if pm == nil {
		return
	}
	logger.Info("pipeline finished", zap.Duration("wall", pm.WallDuration))
	for _, sm := range pm.all() {
		logger.Info("pipeline stage",
			zap.String("stage", sm.StageName),
			zap.Uint("instance", sm.StageInstance),
			zap.Uint("items", sm.Items),
			zap.Duration("work", sm.WorkDuration),
			zap.Duration("total", sm.StageDuration),
		)
	}
}

type stageOptions struct {
	concurrency     uint
	inputBufferSize uint
	name            string
}

func buildStageOptions(index uint, fns ...StageOptionFn) (*stageOptions, error) {
	ret := &stageOptions{
		concurrency:     1,
		inputBufferSize: 1,
	}
	for _, fn := range fns {
		if err := fn(ret); err != nil {
			return nil, err
		}
	}
	if ret.name == "" {
		ret.name = fmt.Sprintf("stage %d", index)
	}
	return ret, nil
}

// commonStage holds what producers and stages share.
type commonStage[T any] struct {
	opts *stageOptions
	// inCh feeds the stage.  For producers it carries retired work items and
	// is unused unless the producer recycles.
	inCh chan T
	// emitToOutCh is false only for the last stage of a non-recycling
	// pipeline, whose output is discarded.
	emitToOutCh bool
	outCh       chan<- T
}

// outputChannelCloser returns a function that closes the stage's output
// channel once every instance of the stage has called it.
func (cs commonStage[T]) outputChannelCloser() func() {
	instances := cs.concurrency()
	var mu sync.Mutex
	return func() {
		mu.Lock()
		defer mu.Unlock()
		instances--
		if instances == 0 {
			close(cs.outCh)
		}
	}
}

func (cs commonStage[T]) concurrency() uint {
	return cs.opts.concurrency
}

func (cs commonStage[T]) name() string {
	return cs.opts.name
}

// exhaustInput discards everything left on the stage's input channel.
func (cs commonStage[T]) exhaustInput() {
	for range cs.inCh {
	}
}

type producer[T any] struct {
	commonStage[T]
	recycling bool
	fn        RecyclingProducerFn[T]
	// getter returns a retired work item without blocking, or false if none
	// is available right now.  Nil for non-recycling producers.
	getter func() (T, bool)
}

func newP[T any](recycling bool, fn RecyclingProducerFn[T], opts *stageOptions) *producer[T] {
	ret := &producer[T]{
		commonStage: commonStage[T]{
			opts:        opts,
			emitToOutCh: true,
			inCh:        make(chan T, opts.inputBufferSize),
		},
		recycling: recycling,
		fn:        fn,
	}
	if recycling {
		ret.getter = func() (wi T, ok bool) {
			// inCh is closed early when a later stage fails.
			select {
			case wi, ok = <-ret.inCh:
				return wi, ok
			default:
				return wi, false
			}
		}
	}
	return ret
}

func (p *producer[T]) do() error {
	return p.fn(p.getter, func(item T) {
		p.outCh <- item
	})
}

// measure behaves like do, additionally counting the items produced and
// separating time spent in `fn` from time spent in `get` and `put`.
func (p *producer[T]) measure() (items uint, workDuration, stageDuration time.Duration, err error) {
	start := time.Now()
	var frameworkDuration time.Duration
	err = p.fn(func() (item T, ok bool) {
		start := time.Now()
		if p.getter != nil {
			item, ok = p.getter()
		}
		frameworkDuration += time.Since(start)
		return item, ok
	}, func(item T) {
		start := time.Now()
		items++
		p.outCh <- item
		frameworkDuration += time.Since(start)
	})
	stageDuration = time.Since(start)
	workDuration = stageDuration - frameworkDuration
	return items, workDuration, stageDuration, err
}

type stage[T any] struct {
	commonStage[T]
	fn StageFn[T]
}

func newS[T any](fn StageFn[T], opts *stageOptions) *stage[T] {
	return &stage[T]{
		commonStage: commonStage[T]{
			opts:        opts,
			emitToOutCh: true,
			inCh:        make(chan T, opts.inputBufferSize),
		},
		fn: fn,
	}
}

// doOne works on a single item from the input channel, returning false once
// the channel is closed and drained.
func (s *stage[T]) doOne() (ok bool, workDuration time.Duration, err error) {
	in, ok := <-s.inCh
	if !ok {
		return false, 0, nil
	}
	start := time.Now()
	out, err := s.fn(in)
	workDuration = time.Since(start)
	if err == nil && s.emitToOutCh {
		s.outCh <- out
	}
	return true, workDuration, err
}

func (s *stage[T]) do() error {
	_, _, _, err := s.measure()
	return err
}

func (s *stage[T]) measure() (items uint, workDuration, stageDuration time.Duration, err error) {
	start := time.Now()
	for {
		ok, dur, err := s.doOne()
		if !ok {
			break
		}
		items++
		workDuration += dur
		if err != nil {
			return items, workDuration, time.Since(start), err
		}
	}
	return items, workDuration, time.Since(start), nil
}

type pipeline[T any] struct {
	producer *producer[T]
	stages   []*stage[T]
}

func newPipeline[T any](producerDef Producer[T], stageDefs ...Stage[T]) (*pipeline[T], error) {
	if len(stageDefs) == 0 {
		return nil, fmt.Errorf("pipeline must have a producer and at least one stage")
	}
	ret := &pipeline[T]{}
	var err error
	ret.producer, err = producerDef(0)
	if err != nil {
		return nil, err
	}
	ret.stages = make([]*stage[T], len(stageDefs))
	for idx, stageDef := range stageDefs {
		s, err := stageDef(uint(idx) + 1)
		if err != nil {
			return nil, err
		}
		ret.stages[idx] = s
	}
	// Chain each stage's output to the next stage's input, and the last
	// stage back to the producer.
	ret.producer.outCh = ret.stages[0].inCh
	last := ret.stages[0]
	for _, s := range ret.stages[1:] {
		last.outCh = s.inCh
		last = s
	}
	last.outCh = ret.producer.inCh
	if !ret.producer.recycling {
		last.emitToOutCh = false
	}
	return ret, nil
}

type doer interface {
	outputChannelCloser() func()
	concurrency() uint
	name() string
	exhaustInput()
	do() error
	measure() (items uint, workDuration, stageDuration time.Duration, err error)
}

// run starts every instance of d in eg.  Each instance, once done, closes
// the output channel if it is the last to finish, then drains its input so
// upstream writers (including a recycling last stage) never block.
func run(eg *errgroup.Group, d doer) {
	closeOutputChannel := d.outputChannelCloser()
	for i := uint(0); i < d.concurrency(); i++ {
		eg.Go(func() error {
			err := d.do()
			closeOutputChannel()
			d.exhaustInput()
			return err
		})
	}
}

// runMeasured is like run, but returns a StageMetrics per instance.  They
// must not be read before eg.Wait returns.
func runMeasured(eg *errgroup.Group, d doer) []*StageMetrics {
	ret := make([]*StageMetrics, d.concurrency())
	closeOutputChannel := d.outputChannelCloser()
	for i := uint(0); i < d.concurrency(); i++ {
		sm := &StageMetrics{
			StageName:     d.name(),
			StageInstance: i,
		}
		ret[i] = sm
		eg.Go(func() error {
			var err error
			sm.Items, sm.WorkDuration, sm.StageDuration, err = d.measure()
			start := time.Now()
			closeOutputChannel()
			d.exhaustInput()
			sm.StageDuration += time.Since(start)
			return err
		})
	}
	return ret
}

func (p *pipeline[T]) do() error {
	var eg errgroup.Group
	run(&eg, p.producer)
	for _, s := range p.stages {
		run(&eg, s)
	}
	return eg.Wait()
}

// sequentialDo runs each produced item through every stage before the
// producer continues.  No channels are used.
func (p *pipeline[T]) sequentialDo() error {
	var err error
	itemAvailable := false
	var pendingItem T
	producerErr := p.producer.fn(
		func() (T, bool) {
			ok := itemAvailable
			itemAvailable = false
			return pendingItem, ok
		},
		func(item T) {
			if err != nil {
				return
			}
			for _, s := range p.stages {
				if item, err = s.fn(item); err != nil {
					return
				}
			}
			if p.producer.recycling {
				itemAvailable = true
				pendingItem = item
			}
		})
	if producerErr != nil {
		return producerErr
	}
	return err
}

func (p *pipeline[T]) measure() (*Metrics, error) {
	ret := &Metrics{}
	start := time.Now()
	var eg errgroup.Group
	producerMetrics := runMeasured(&eg, p.producer)
	stageMetrics := make([][]*StageMetrics, len(p.stages))
	for idx, s := range p.stages {
		stageMetrics[idx] = runMeasured(&eg, s)
	}
	err := eg.Wait()
	ret.WallDuration = time.Since(start)
	ret.ProducerMetrics = producerMetrics
	ret.StageMetrics = stageMetrics
	return ret, err
}
