package core

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// postView is one post as shown by the status endpoints.
type postView struct {
	PostID       types.PostID      `json:"post_id"`
	Participants []participantView `json:"participants"`
}

type participantView struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	ContestID int64             `json:"contest_id"`
	State     reporter.StateTag `json:"state"`
	Legs      int               `json:"legs,omitempty"`
	Time      string            `json:"time,omitempty"`
	Comments  int               `json:"comments,omitempty"`
}

type reportResponse struct {
	Posts []postView `json:"posts"`
}

// HandleReport returns every tracked post, ordered by post ID.
func (s *Server) HandleReport(w http.ResponseWriter, r *http.Request) {
	report := s.Status.Snapshot()

	ids := make([]types.PostID, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	resp := reportResponse{Posts: make([]postView, 0, len(ids))}
	for _, id := range ids {
		resp.Posts = append(resp.Posts, viewPost(id, report[id]))
	}
	JSON(w, r, http.StatusOK, resp)
}

// HandlePost returns one tracked post.
func (s *Server) HandlePost(w http.ResponseWriter, r *http.Request) {
	id := types.PostID(chi.URLParam(r, "postID"))
	roster, ok := s.Status.Snapshot()[id]
	if !ok {
		Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundPost, "post is not tracked", nil,
			map[string]any{"post_id": string(id)}))
		return
	}
	JSON(w, r, http.StatusOK, viewPost(id, roster))
}

// HandleLastTick returns the result of the most recent tick.
func (s *Server) HandleLastTick(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, s.Status.LastTick())
}

// HandleVersion returns the build information.
func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, s.Build)
}

func viewPost(id types.PostID, roster reporter.Roster) postView {
	view := postView{PostID: id, Participants: make([]participantView, 0, len(roster))}
	for _, rec := range roster.Records() {
		t := roster[rec.Participant.ID]
		view.Participants = append(view.Participants, participantView{
			ID:        rec.Participant.ID,
			Name:      rec.Participant.Name,
			ContestID: rec.ID,
			State:     t.State.Tag,
			Legs:      t.State.LegCount,
			Time:      t.State.TimeText,
			Comments:  len(t.Comments),
		})
	}
	return view
}
