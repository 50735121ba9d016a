// Command torcida はZona Rubronegraのメンバー向けローカルバックエンド。
//
// 使い方:
//
//	torcida [serve|status|migrate|healthcheck]
//
// 引数を省略した場合はserveとして起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/torcida/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "torcida: %v\n", err)
		os.Exit(1)
	}
}
