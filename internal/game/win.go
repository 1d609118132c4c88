package game

import "sort"

// axes 勝負判定的四條軸線：水平、垂直、主對角、副對角
var axes = [4]Position{
	{Row: 0, Col: 1},
	{Row: 1, Col: 0},
	{Row: 1, Col: 1},
	{Row: 1, Col: -1},
}

// CheckWin 判斷剛落在 pos 的一手是否構成連線
//
// 從落子點沿每條軸的正反兩個方向延伸計數，總數（含落子點本身）
// 達到 winCondition 即勝。回傳該軸上穿過落子點的最長連續段，
// 依軸向排序；多軸同時達標時以軸序取第一條。
func CheckWin(s *State, pos Position) ([]Position, bool) {
	player := s.Board[pos.Row][pos.Col]
	if player == "" {
		return nil, false
	}

	for _, axis := range axes {
		line := []Position{pos}

		for _, sign := range [2]int{1, -1} {
			for step := 1; ; step++ {
				next := Position{
					Row: pos.Row + axis.Row*step*sign,
					Col: pos.Col + axis.Col*step*sign,
				}
				if !s.InBounds(next) || s.Board[next.Row][next.Col] != player {
					break
				}
				line = append(line, next)
			}
		}

		if len(line) >= s.WinCondition {
			sort.Slice(line, func(i, j int) bool {
				if line[i].Row != line[j].Row {
					return line[i].Row < line[j].Row
				}
				return line[i].Col < line[j].Col
			})
			return line, true
		}
	}
	return nil, false
}

// DetermineResult 全盤重新掃描勝負（狀態同步時補算結果用）
//
// 逐格對已佔用的格子呼叫 CheckWin；無連線且棋盤已滿則判和。
func DetermineResult(s *State) (Winner, []Position) {
	for row := 0; row < s.BoardSize; row++ {
		for col := 0; col < s.BoardSize; col++ {
			if s.Board[row][col] == "" {
				continue
			}
			if line, won := CheckWin(s, Position{Row: row, Col: col}); won {
				return Winner(s.Board[row][col]), line
			}
		}
	}
	if IsBoardFull(s) {
		return WinnerDraw, nil
	}
	return "", nil
}

// IsBoardFull 檢查棋盤是否已無空位（判和用）
func IsBoardFull(s *State) bool {
	for _, row := range s.Board {
		for _, cell := range row {
			if cell == "" {
				return false
			}
		}
	}
	return true
}
