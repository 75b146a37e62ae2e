package ui

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderRoster prints the current room membership as a table.
func RenderRoster(room string, users []string) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetTitle("Room " + room)
	t.AppendHeader(table.Row{"#", "Participant", "Status"})

	if len(users) == 0 {
		t.AppendRow(table.Row{"-", "nobody else here yet", ""})
	}
	for i, user := range users {
		t.AppendRow(table.Row{i + 1, user, "connected"})
	}

	fmt.Println(t.Render())
}

// RenderRoomInfo prints the joined-room banner.
func RenderRoomInfo(room, username string) {
	info := fmt.Sprintf("Joined %s as %s",
		TitleStyle.Render(room),
		SelfStyle.Render(username),
	)
	fmt.Println(RoomBoxStyle.Render(info))
}
