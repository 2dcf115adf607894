// Copyright 2019 Preferred Networks, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package framework

import (
	"context"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// DefaultNormalizeScore rescales scores linearly so that the highest becomes MaxScore and zero (or
// the lowest score, if negative) becomes 0. With Reverse, the result is inverted so that the lowest
// raw score gets MaxScore.
type DefaultNormalizeScore struct {
	MaxScore int64
	Reverse  bool
}

// NormalizeScore implements ScoreExtensions.
func (d DefaultNormalizeScore) NormalizeScore(_ context.Context, _ *CycleState, _ *pod.PodInfo, scores NodeScoreList) *Status {
	if len(scores) == 0 {
		return nil
	}

	lo, hi := int64(0), scores[0].Score
	for _, s := range scores {
		if s.Score > hi {
			hi = s.Score
		}
		if s.Score < lo {
			lo = s.Score
		}
	}

	if hi <= lo {
		for i := range scores {
			if d.Reverse {
				scores[i].Score = d.MaxScore
			} else {
				scores[i].Score = 0
			}
		}
		return nil
	}

	for i := range scores {
		score := d.MaxScore * (scores[i].Score - lo) / (hi - lo)
		if d.Reverse {
			score = d.MaxScore - score
		}
		scores[i].Score = score
	}

	return nil
}

var _ ScoreExtensions = DefaultNormalizeScore{}
