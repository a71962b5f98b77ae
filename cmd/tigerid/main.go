// Command tigerid 是老虎个体识别的命令行入口。
package main

import (
	"fmt"
	"os"

	_ "github.com/rushteam/tigerid/config/builders"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
