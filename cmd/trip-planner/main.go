package main

// ============================================================================
// trip-planner 執行檔入口
// - 組裝版本字串後交給 cli.BuildCLI()
// - 頂層 panic 轉成非零結束碼
//
// 版本資訊於編譯時注入：
//   go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse HEAD)" ./cmd/trip-planner
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/trip-planner/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "trip-planner 發生 panic: %v\n", r)
			code = 2
		}
	}()

	root := cli.BuildCLI()
	root.Version = version + " (" + commit + ")"
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trip-planner:", err)
		return 1
	}
	return 0
}
