package explorer

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Interact runs the interactive browser over a recorded archive
func Interact(a *Archive, in io.Reader, out io.Writer) {
	fmt.Fprintf(out, "%s", header())
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s", prompt())

		optionS, err := reader.ReadString('\n')
		if err == io.EOF && strings.TrimSpace(optionS) == "" {
			return
		}
		option, err := strconv.Atoi(strings.TrimSpace(optionS))
		if err != nil {
			fmt.Fprintln(out, "Invalid input! Try again")
			continue
		}
		fmt.Fprintln(out, "------------------------------------")
		switch option {
		case 1:
			fmt.Fprintf(out, "%s", summary(a))
		case 2:
			fmt.Fprintf(out, "%s", topCells(a, 10))
		case 3:
			fmt.Fprintf(out, "Enter the cell key: ")
			key, err := reader.ReadString('\n')
			if err != nil && key == "" {
				fmt.Fprintln(out, "Invalid input! Try again")
				continue
			}
			fmt.Fprintf(out, "%s", cellDetails(a, strings.TrimSpace(key)))
		case 4:
			fmt.Fprintln(out, "Quitting! Thank you")
			return
		default:
			fmt.Fprintln(out, "Wrong choice! Try again!")
		}
	}
}

func summary(a *Archive) string {
	if a.Len() == 0 {
		return "Empty archive\n"
	}
	longest, best := 0, 0.0
	for _, c := range a.Cells {
		if len(c.Trajectory) > longest {
			longest = len(c.Trajectory)
		}
		if c.Reward > best {
			best = c.Reward
		}
	}
	return fmt.Sprintf("Cells: %d\nLongest trajectory: %d\nBest reward: %f\n", a.Len(), longest, best)
}

// topCells lists the cells with the highest reward, shortest trajectory first on ties
func topCells(a *Archive, n int) string {
	cells := make([]*Cell, 0, a.Len())
	for _, k := range a.Keys() {
		cells = append(cells, a.Cells[k])
	}
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].Reward != cells[j].Reward {
			return cells[i].Reward > cells[j].Reward
		}
		return len(cells[i].Trajectory) < len(cells[j].Trajectory)
	})
	if len(cells) > n {
		cells = cells[:n]
	}
	out := "Top cells are:\n"
	for _, c := range cells {
		out += fmt.Sprintf("%s: reward %f, steps %d, seen %d\n", c.Key, c.Reward, len(c.Trajectory), c.TimesSeen)
	}
	return out
}

func cellDetails(a *Archive, key string) string {
	c, ok := a.Cells[key]
	if !ok {
		return "No such cell\n"
	}
	actions := make([]string, len(c.Trajectory))
	for i, action := range c.Trajectory {
		actions[i] = strconv.FormatFloat(action, 'g', -1, 64)
	}
	return fmt.Sprintf("Cell Key: %s\nState: %d\nScore: %f\nChosen: %d\nSeen: %d\nReward: %f\nTrajectory: [%s]\n",
		c.Key, c.Observation.StateID, c.Score(), c.TimesChosen, c.TimesSeen, c.Reward, strings.Join(actions, " "))
}

func header() string {
	return `
Welcome to the archive explorer!
	`
}

func prompt() string {
	return `
------------------------------------
Select one of the following options:
1. Show summary
2. Show top cells
3. Show a cell
4. Quit
Enter your choice: `
}
