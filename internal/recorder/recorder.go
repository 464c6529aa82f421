// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package recorder

import (
	"fmt"
	"io"
	"sync"

	"github.com/SmartBFT-Go/commitbridge/internal/rpc"
	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/pkg/errors"
)

const maxRecordBytes = 64 * 1024 * 1024

// Proxy records every block it is given to Out, one event per line, before
// handing the block to Handler.
type Proxy struct {
	Logger  api.Logger
	Handler api.CommitHandler
	Out     io.Writer

	lock sync.Mutex
}

func (p *Proxy) HandleBlock(block *types.CommitBlock) {
	p.record(block)
	p.Handler.HandleBlock(block)
}

func (p *Proxy) record(block *types.CommitBlock) {
	re, err := types.NewRecordedEvent(types.TypeCommitBlock, block)
	if err != nil {
		p.Logger.Errorf("Failed recording %s: %v", block, err)
		return
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if _, err := fmt.Fprintln(p.Out, re); err != nil {
		p.Logger.Errorf("Failed recording %s: %v", block, err)
	}
}

// Replay hands every block recorded in in to handler, in recording order, and
// returns the number of blocks replayed. Events of other types are skipped.
func Replay(logger api.Logger, in io.Reader, handler api.CommitHandler) (int, error) {
	lines := rpc.NewLineReader(in, maxRecordBytes)
	count := 0
	for n := 1; ; n++ {
		line, err := lines.ReadLine()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, errors.Wrapf(err, "failed reading record %d", n)
		}
		if len(line) == 0 {
			continue
		}

		re := types.RecordedEvent{}
		if err := re.FromString(string(line)); err != nil {
			return count, errors.Wrapf(err, "record %d", n)
		}
		if re.Type != types.TypeCommitBlock {
			logger.Debugf("Skipping record %d of type %s", n, re.Type)
			continue
		}
		decoded, err := re.Decode()
		if err != nil {
			return count, errors.Wrapf(err, "record %d", n)
		}

		block := decoded.(*types.CommitBlock)
		logger.Infof("Replaying %s", block)
		handler.HandleBlock(block)
		count++
	}
}
