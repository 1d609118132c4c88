// Package ai 實作電腦對手的啟發式選點
//
// 系統設計問題：
//
//	五子棋的完整博弈樹無法即時搜尋，AI 必須在一次請求的
//	時間內給出「夠強」而非「最優」的一手。
//
// 核心挑戰:
//  1. 候選點必須侷限在戰場附近，否則 20×20 棋盤有四百個選擇
//  2. 攻防要同時評估：差一手成五的防守價值僅次於自己成五
//  3. 評估用的試下必須完整還原，棋盤是共享的權威狀態
//
// 設計方案：
//
//	✅ 距離既有棋子 4 步內的空格為候選 - 搜尋空間與局勢成比例
//	✅ 五格視窗攻防雙評分 - 同一套掃描換邊執行，防守權重略低
//	✅ 試下後立即還原 - 評估結束時棋盤與進入時逐格相同
package ai

import (
	"math/rand/v2"
	"sort"

	"github.com/maivankien/caro-online-server/internal/game"
)

// windowSize 評分視窗的長度（連五成勝的經典視窗）
const windowSize = 5

// marchLimit 候選點離既有棋子的最大步數
const marchLimit = 4

// 評分權重：攻擊滿級 1000，對應防守級別低 100，
// 確保「擋下對方成五」排在「自己做活四」之前
const (
	attackBase = 1000
	defendBase = attackBase - 100
)

// directions 候選點擴散的八個方向
var directions = [8][2]int{
	{0, 1}, {0, -1}, {1, 0}, {-1, 0},
	{1, 1}, {-1, -1}, {1, -1}, {-1, 1},
}

// axes 評分視窗掃描的四條軸線
var axes = [4][2]int{
	{0, 1}, {1, 0}, {1, 1}, {1, -1},
}

// Engine 啟發式選點引擎
type Engine struct {
	// intn 開局擾動的亂數來源，測試可替換
	intn func(int) int
}

// NewEngine 創建 AI 引擎
func NewEngine() *Engine {
	return &Engine{intn: rand.IntN}
}

// SetRand 替換亂數來源（測試用）
func (e *Engine) SetRand(intn func(int) int) {
	e.intn = intn
}

// BestMove 為 mover 方挑選落子
//
// 空棋盤時在中心點附近 3×3 內隨機擾動，避免每局都下正中央；
// 其餘情況對候選點逐一攻防評分取最高，同分時先遇到者勝出。
func (e *Engine) BestMove(s *game.State, mover game.Player) (game.Position, bool) {
	if len(s.Moves) == 0 && boardEmpty(s) {
		return e.openingMove(s), true
	}

	candidates := e.candidates(s)
	if len(candidates) == 0 {
		return firstEmpty(s)
	}

	best := candidates[0]
	bestScore := -1
	for _, pos := range candidates {
		score := e.score(s, pos, mover)
		if score > bestScore {
			best = pos
			bestScore = score
		}
	}
	return best, true
}

// openingMove 中心點 3×3 擾動
func (e *Engine) openingMove(s *game.State) game.Position {
	mid := s.BoardSize / 2
	pos := game.Position{
		Row: mid + e.intn(3) - 1,
		Col: mid + e.intn(3) - 1,
	}
	if !s.InBounds(pos) {
		return game.Position{Row: mid, Col: mid}
	}
	return pos
}

// candidates 收集離既有棋子 marchLimit 步內的空格，按列行排序
func (e *Engine) candidates(s *game.State) []game.Position {
	seen := make(map[game.Position]struct{})

	for row := 0; row < s.BoardSize; row++ {
		for col := 0; col < s.BoardSize; col++ {
			if s.Board[row][col] == "" {
				continue
			}
			for _, dir := range directions {
				for step := 1; step <= marchLimit; step++ {
					pos := game.Position{Row: row + dir[0]*step, Col: col + dir[1]*step}
					if !s.InBounds(pos) {
						break
					}
					if s.Board[pos.Row][pos.Col] == "" {
						seen[pos] = struct{}{}
					}
				}
			}
		}
	}

	candidates := make([]game.Position, 0, len(seen))
	for pos := range seen {
		candidates = append(candidates, pos)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Row != candidates[j].Row {
			return candidates[i].Row < candidates[j].Row
		}
		return candidates[i].Col < candidates[j].Col
	})
	return candidates
}

// score 候選點的攻防總分
//
// 攻擊分為己方試下後的局面分，防守分為對方試下後的局面分
// 乘上略低的基準。兩次試下都在評估後立即還原。
func (e *Engine) score(s *game.State, pos game.Position, mover game.Player) int {
	attack := e.evaluate(s, pos, mover)
	defend := e.evaluate(s, pos, mover.Opponent())

	return attack.tier*attackBase + attack.linear +
		defend.tier*defendBase + defend.linear
}

// axisScore 一個候選點在四條軸上的評分素材
type axisScore struct {
	// tier 威脅級別：5 成五、4 雙四或四三、3 雙活三，其餘 0
	tier int
	// linear 各軸視窗計數的線性加權
	linear int
}

// evaluate 將 p 方棋子試下在 pos 後掃描四軸
//
// 每條軸取所有完整落在棋盤內、且不含對方棋子的五格視窗中
// p 方棋子數的最大值；含對方棋子的視窗視為被封死，不計分。
func (e *Engine) evaluate(s *game.State, pos game.Position, p game.Player) axisScore {
	s.Board[pos.Row][pos.Col] = p
	defer func() {
		s.Board[pos.Row][pos.Col] = ""
	}()

	var counts [4]int
	for i, axis := range axes {
		counts[i] = e.bestWindow(s, pos, p, axis)
	}

	var fives, fours, threes int
	linear := 1
	for _, c := range counts {
		switch {
		case c >= windowSize:
			fives++
		case c == 4:
			fours++
			linear += 16
		case c == 3:
			threes++
			linear += 8
		case c == 2:
			linear += 4
		}
	}

	tier := 0
	switch {
	case fives > 0:
		tier = 5
	case fours >= 2 || (fours >= 1 && threes >= 1):
		tier = 4
	case threes >= 2:
		tier = 3
	}
	return axisScore{tier: tier, linear: linear}
}

// bestWindow 沿一條軸取含 pos 的最佳開放視窗計數
func (e *Engine) bestWindow(s *game.State, pos game.Position, p game.Player, axis [2]int) int {
	opponent := p.Opponent()
	best := 0

	// 視窗起點從 pos 往負方向滑動，共 windowSize 個含 pos 的視窗
	for offset := 0; offset < windowSize; offset++ {
		start := game.Position{
			Row: pos.Row - axis[0]*offset,
			Col: pos.Col - axis[1]*offset,
		}
		end := game.Position{
			Row: start.Row + axis[0]*(windowSize-1),
			Col: start.Col + axis[1]*(windowSize-1),
		}
		if !s.InBounds(start) || !s.InBounds(end) {
			continue
		}

		count := 0
		blocked := false
		for step := 0; step < windowSize; step++ {
			cell := s.Board[start.Row+axis[0]*step][start.Col+axis[1]*step]
			switch cell {
			case p:
				count++
			case opponent:
				blocked = true
			}
		}
		if !blocked && count > best {
			best = count
		}
	}
	return best
}

func boardEmpty(s *game.State) bool {
	for _, row := range s.Board {
		for _, cell := range row {
			if cell != "" {
				return false
			}
		}
	}
	return true
}

// firstEmpty 行主序的保底選點
func firstEmpty(s *game.State) (game.Position, bool) {
	for row := 0; row < s.BoardSize; row++ {
		for col := 0; col < s.BoardSize; col++ {
			if s.Board[row][col] == "" {
				return game.Position{Row: row, Col: col}, true
			}
		}
	}
	return game.Position{}, false
}
