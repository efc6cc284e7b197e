package manager

import (
	"bytes"
	"context"
	"testing"

	"diffusiond/internal/runtime"
)

func validParams() runtime.GenerateParams {
	return runtime.GenerateParams{
		Prompt:            "aurel_person person, studio portrait",
		NumInferenceSteps: 30,
		GuidanceScale:     7.5,
		Width:             512,
		Height:            512,
	}
}

func TestGenerateSeededDeterminism(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntime(), "")
	h, err := m.Acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	seed := int64(42)
	p := validParams()
	p.Seed = &seed
	a, err := m.Generate(context.Background(), h, p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := m.Generate(context.Background(), h, p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !bytes.Equal(a.PNG, b.PNG) {
		t.Fatalf("seeded outputs differ")
	}
	if a.ModelID != "m1" {
		t.Fatalf("result model id: %q", a.ModelID)
	}
}

func TestGenerateReportsFallbackModelID(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntimeWithModels("base"), "base")
	h, err := m.Acquire(context.Background(), "nonexistent/model")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	img, err := m.Generate(context.Background(), h, validParams())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.ModelID != "base" {
		t.Fatalf("expected fallback id in result, got %q", img.ModelID)
	}
}

func TestGenerateRejectsOutOfRangeParams(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntime(), "")
	h, err := m.Acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cases := []func(*runtime.GenerateParams){
		func(p *runtime.GenerateParams) { p.Prompt = "" },
		func(p *runtime.GenerateParams) { p.NumInferenceSteps = 0 },
		func(p *runtime.GenerateParams) { p.NumInferenceSteps = 151 },
		func(p *runtime.GenerateParams) { p.GuidanceScale = 0.5 },
		func(p *runtime.GenerateParams) { p.GuidanceScale = 20.5 },
		func(p *runtime.GenerateParams) { p.Width = 128 },
		func(p *runtime.GenerateParams) { p.Width = 2048 },
		func(p *runtime.GenerateParams) { p.Height = 255 },
		func(p *runtime.GenerateParams) { p.Height = 1025 },
	}
	for i, mutate := range cases {
		p := validParams()
		mutate(&p)
		_, err := m.Generate(context.Background(), h, p)
		if err == nil || !IsInvalidParams(err) {
			t.Fatalf("case %d: expected invalid-params error, got %v", i, err)
		}
	}
	// Boundary values are in range.
	for _, p := range []runtime.GenerateParams{
		{Prompt: "x", NumInferenceSteps: 1, GuidanceScale: 1.0, Width: 256, Height: 256},
		{Prompt: "x", NumInferenceSteps: 150, GuidanceScale: 20.0, Width: 1024, Height: 1024},
	} {
		if _, err := m.Generate(context.Background(), h, p); err != nil {
			t.Fatalf("boundary params rejected: %v", err)
		}
	}
}

func TestGenerateNilHandle(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntime(), "")
	if _, err := m.Generate(context.Background(), nil, validParams()); err == nil || !IsGeneration(err) {
		t.Fatalf("expected generation error for nil handle, got %v", err)
	}
}
