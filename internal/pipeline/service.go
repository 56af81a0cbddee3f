package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xerrors "OpenAgent-Chain/internal/errors"
)

// Service 维护一组命名流水线，并提供统一的执行入口。
// 注册阶段结束后定义即只读，Execute 可以被任意并发调用。
type Service struct {
	runner *Runner

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	defaults  string
}

// NewService 构造流水线服务。
func NewService(runner *Runner) *Service {
	return &Service{
		runner:    runner,
		pipelines: make(map[string]*Pipeline),
	}
}

// Register 注册一条流水线。第一条注册的流水线成为默认流水线。
func (s *Service) Register(p *Pipeline) error {
	if s == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "流水线服务未初始化")
	}
	if p == nil || p.Len() == 0 {
		return xerrors.New(xerrors.CodeInvalidPipeline, "不能注册空流水线")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.Name()]; ok {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("流水线 %q 已注册", p.Name()))
	}
	s.pipelines[p.Name()] = p
	if s.defaults == "" {
		s.defaults = p.Name()
	}
	return nil
}

// Lookup 返回指定名称的流水线，名称为空时返回默认流水线。
func (s *Service) Lookup(name string) (*Pipeline, error) {
	if s == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "流水线服务未初始化")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.defaults
	}
	p, ok := s.pipelines[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("流水线 %q 未注册", name))
	}
	return p, nil
}

// Names 返回已注册流水线的名称列表。
func (s *Service) Names() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	return names
}

// Execute 对指定流水线执行一次请求。
func (s *Service) Execute(ctx context.Context, name, input string) (*Result, error) {
	p, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求内容不能为空")
	}
	return s.runner.Run(ctx, p, input)
}
