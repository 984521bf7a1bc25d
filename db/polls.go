package db

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/wingbeat-social/wingbeat/domain"
)

// Poll queries
const (
	sqlInsertPoll         = `INSERT INTO polls(id, post_id, end_date, multi_choice) VALUES (?, ?, ?, ?)`
	sqlSelectPollByPostId = `SELECT id, post_id, end_date, multi_choice FROM polls WHERE post_id = ?`
	sqlInsertPollQuestion = `INSERT INTO poll_questions(id, poll_id, idx, question_text, remote_replies) VALUES (?, ?, ?, ?, ?)`
	sqlSelectPollQuestions = `SELECT id, poll_id, idx, COALESCE(question_text, ''), remote_replies FROM poll_questions WHERE poll_id = ? ORDER BY idx ASC`
	sqlDeletePollQuestions = `DELETE FROM poll_questions WHERE poll_id = ?`
)

func (db *DB) CreatePoll(poll *domain.Poll) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPoll, poll.Id.String(), poll.PostId.String(), poll.EndDate, poll.MultiChoice)
		return err
	})
}

func (db *DB) ReadPollByPostId(postId uuid.UUID) (error, *domain.Poll) {
	var poll domain.Poll
	var idStr, postStr string
	err := db.db.QueryRow(sqlSelectPollByPostId, postId.String()).Scan(&idStr, &postStr, &poll.EndDate, &poll.MultiChoice)
	if err == sql.ErrNoRows {
		return err, nil
	}
	poll.Id = parseUuidOrNil(idStr)
	poll.PostId = parseUuidOrNil(postStr)
	return err, &poll
}

func (db *DB) CreatePollQuestion(question *domain.PollQuestion) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPollQuestion,
			question.Id.String(),
			question.PollId.String(),
			question.Index,
			question.QuestionText,
			question.RemoteReplies,
		)
		return err
	})
}

func (db *DB) ReadPollQuestions(pollId uuid.UUID) (error, *[]domain.PollQuestion) {
	rows, err := db.db.Query(sqlSelectPollQuestions, pollId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var questions []domain.PollQuestion
	for rows.Next() {
		var question domain.PollQuestion
		var idStr, pollStr string
		if err := rows.Scan(&idStr, &pollStr, &question.Index, &question.QuestionText, &question.RemoteReplies); err != nil {
			return err, &questions
		}
		question.Id = parseUuidOrNil(idStr)
		question.PollId = parseUuidOrNil(pollStr)
		questions = append(questions, question)
	}
	if err = rows.Err(); err != nil {
		return err, &questions
	}
	return nil, &questions
}

// DeletePollQuestions drops every option of a poll; used when the remote
// option set changed and the poll is rebuilt from scratch.
func (db *DB) DeletePollQuestions(pollId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePollQuestions, pollId.String())
		return err
	})
}
