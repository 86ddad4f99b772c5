package main

import (
	"os"

	"github.com/armadaproject/workqueue/cmd/workqueue/cmd"
	"github.com/armadaproject/workqueue/internal/common"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode lets scripts tell rejected input and unknown requests apart from other failures.
func exitCode(err error) int {
	switch wqerrors.Classify(err) {
	case wqerrors.KindSpecRejected:
		return 2
	case wqerrors.KindUnknownRequest:
		return 3
	case wqerrors.KindNotArchivable:
		return 4
	default:
		return 1
	}
}
