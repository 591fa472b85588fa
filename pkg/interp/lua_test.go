package interp

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLuaContextCapturesOutputInOrder(t *testing.T) {
	engine := NewLuaEngine()
	ictx := engine.NewContext()
	defer ictx.Close()

	var buf strings.Builder
	err := ictx.Run(context.Background(), `print("a") write("b") print(1, 2)`, Hooks{
		OnOutput: func(text string) { buf.WriteString(text) },
	})
	require.NoError(t, err)
	require.Equal(t, "a\nb1\t2\n", buf.String())
}

func TestLuaContextSuspendsOnInput(t *testing.T) {
	engine := NewLuaEngine()
	ictx := engine.NewContext()
	defer ictx.Close()

	var buf strings.Builder
	prompts := []string{}
	err := ictx.Run(context.Background(), `local name = input("name? ") print("hi " .. name)`, Hooks{
		OnOutput: func(text string) { buf.WriteString(text) },
		OnInput: func(prompt string) (string, error) {
			prompts = append(prompts, prompt)
			return "ada", nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"name? "}, prompts)
	require.Equal(t, "hi ada\n", buf.String())
}

func TestLuaContextSharesStateBetweenRuns(t *testing.T) {
	engine := NewLuaEngine()
	ictx := engine.NewContext()
	defer ictx.Close()

	require.NoError(t, ictx.Run(context.Background(), `function solusi(a, b) return a + b end`, Hooks{}))

	var buf strings.Builder
	err := ictx.Run(context.Background(), `print(solusi(2, 3))`, Hooks{
		OnOutput: func(text string) { buf.WriteString(text) },
	})
	require.NoError(t, err)
	require.Equal(t, "5\n", buf.String())
}

func TestLuaContextsAreIsolated(t *testing.T) {
	engine := NewLuaEngine()

	first := engine.NewContext()
	defer first.Close()
	require.NoError(t, first.Run(context.Background(), `leaked = 42`, Hooks{}))

	second := engine.NewContext()
	defer second.Close()

	var buf strings.Builder
	err := second.Run(context.Background(), `print(leaked)`, Hooks{
		OnOutput: func(text string) { buf.WriteString(text) },
	})
	require.NoError(t, err)
	require.Equal(t, "nil\n", buf.String())
}

func TestLuaContextReportsRuntimeErrors(t *testing.T) {
	engine := NewLuaEngine()
	ictx := engine.NewContext()
	defer ictx.Close()

	err := ictx.Run(context.Background(), `error("boom")`, Hooks{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.False(t, IsStop(err))
}

func TestStopIsRecognisedAsDeliberate(t *testing.T) {
	engine := NewLuaEngine()
	ictx := engine.NewContext()
	defer ictx.Close()

	err := ictx.Run(context.Background(), `print("before") stop() print("after")`, Hooks{
		OnOutput: func(string) {},
	})
	require.Error(t, err)
	require.True(t, IsStop(err))
}
