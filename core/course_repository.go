package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Course is an LMS course. ShortName is used to derive channel names.
type Course struct {
	ID        int64  `json:"id"`
	ShortName string `json:"shortname"`
	FullName  string `json:"fullname"`
}

// Group is a student group belonging to exactly one course.
type Group struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	Name     string `json:"name"`
}

// CourseMapping links a course to the chat integration.
type CourseMapping struct {
	ID        int64     `json:"id"`
	CourseID  int64     `json:"course_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CourseRepository reads courses and groups from the LMS store.
type CourseRepository interface {
	GetCourse(ctx context.Context, id int64) (*Course, error)
	GetGroupsByCourse(ctx context.Context, courseID int64) ([]Group, error)
	GetGroupCourse(ctx context.Context, groupID int64) (*Course, error)
	GetGroup(ctx context.Context, id int64) (*Group, error)
}

// CourseMappingRepository manages courses enrolled in the chat integration.
type CourseMappingRepository interface {
	List(ctx context.Context) ([]CourseMapping, error)
	Get(ctx context.Context, id int64) (*CourseMapping, error)
	GetByCourse(ctx context.Context, courseID int64) (*CourseMapping, error)
	Create(ctx context.Context, courseID int64) (*CourseMapping, error)
	Delete(ctx context.Context, id int64) error
}

// dataAccessError wraps err with ErrDataAccess and maps pgx.ErrNoRows to ErrNotFound.
func dataAccessError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s: %w", ErrDataAccess, op, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %w", ErrDataAccess, op, err)
}

// PgCourseRepository implements CourseRepository using pgxpool.
type PgCourseRepository struct {
	db *pgxpool.Pool
}

func NewPgCourseRepository(db *pgxpool.Pool) *PgCourseRepository {
	return &PgCourseRepository{db: db}
}

func (r *PgCourseRepository) GetCourse(ctx context.Context, id int64) (*Course, error) {
	const q = `SELECT id, shortname, fullname FROM courses WHERE id=$1`
	var c Course
	if err := r.db.QueryRow(ctx, q, id).Scan(&c.ID, &c.ShortName, &c.FullName); err != nil {
		return nil, dataAccessError(fmt.Sprintf("course %d", id), err)
	}
	return &c, nil
}

func (r *PgCourseRepository) GetGroupsByCourse(ctx context.Context, courseID int64) ([]Group, error) {
	const q = `SELECT id, course_id, name FROM course_groups WHERE course_id=$1 ORDER BY id`
	rows, err := r.db.Query(ctx, q, courseID)
	if err != nil {
		return nil, dataAccessError(fmt.Sprintf("groups of course %d", courseID), err)
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.CourseID, &g.Name); err != nil {
			return nil, dataAccessError(fmt.Sprintf("groups of course %d", courseID), err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, dataAccessError(fmt.Sprintf("groups of course %d", courseID), err)
	}
	return groups, nil
}

func (r *PgCourseRepository) GetGroupCourse(ctx context.Context, groupID int64) (*Course, error) {
	const q = `
SELECT c.id, c.shortname, c.fullname
FROM course_groups g
JOIN courses c ON c.id = g.course_id
WHERE g.id=$1`
	var c Course
	if err := r.db.QueryRow(ctx, q, groupID).Scan(&c.ID, &c.ShortName, &c.FullName); err != nil {
		return nil, dataAccessError(fmt.Sprintf("course of group %d", groupID), err)
	}
	return &c, nil
}

func (r *PgCourseRepository) GetGroup(ctx context.Context, id int64) (*Group, error) {
	const q = `SELECT id, course_id, name FROM course_groups WHERE id=$1`
	var g Group
	if err := r.db.QueryRow(ctx, q, id).Scan(&g.ID, &g.CourseID, &g.Name); err != nil {
		return nil, dataAccessError(fmt.Sprintf("group %d", id), err)
	}
	return &g, nil
}

// PgCourseMappingRepository implements CourseMappingRepository using pgxpool.
type PgCourseMappingRepository struct {
	db *pgxpool.Pool
}

func NewPgCourseMappingRepository(db *pgxpool.Pool) *PgCourseMappingRepository {
	return &PgCourseMappingRepository{db: db}
}

func (r *PgCourseMappingRepository) List(ctx context.Context) ([]CourseMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT id, course_id, created_at FROM chat_course_mappings ORDER BY id`)
	if err != nil {
		return nil, dataAccessError("list mappings", err)
	}
	defer rows.Close()
	items := []CourseMapping{}
	for rows.Next() {
		var m CourseMapping
		if err := rows.Scan(&m.ID, &m.CourseID, &m.CreatedAt); err != nil {
			return nil, dataAccessError("list mappings", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dataAccessError("list mappings", err)
	}
	return items, nil
}

func (r *PgCourseMappingRepository) Get(ctx context.Context, id int64) (*CourseMapping, error) {
	const q = `SELECT id, course_id, created_at FROM chat_course_mappings WHERE id=$1`
	var m CourseMapping
	if err := r.db.QueryRow(ctx, q, id).Scan(&m.ID, &m.CourseID, &m.CreatedAt); err != nil {
		return nil, dataAccessError(fmt.Sprintf("mapping %d", id), err)
	}
	return &m, nil
}

func (r *PgCourseMappingRepository) GetByCourse(ctx context.Context, courseID int64) (*CourseMapping, error) {
	const q = `SELECT id, course_id, created_at FROM chat_course_mappings WHERE course_id=$1`
	var m CourseMapping
	if err := r.db.QueryRow(ctx, q, courseID).Scan(&m.ID, &m.CourseID, &m.CreatedAt); err != nil {
		return nil, dataAccessError(fmt.Sprintf("mapping of course %d", courseID), err)
	}
	return &m, nil
}

func (r *PgCourseMappingRepository) Create(ctx context.Context, courseID int64) (*CourseMapping, error) {
	const q = `
INSERT INTO chat_course_mappings (course_id) VALUES ($1)
ON CONFLICT (course_id) DO UPDATE SET course_id=EXCLUDED.course_id
RETURNING id, course_id, created_at`
	var m CourseMapping
	if err := r.db.QueryRow(ctx, q, courseID).Scan(&m.ID, &m.CourseID, &m.CreatedAt); err != nil {
		return nil, dataAccessError(fmt.Sprintf("create mapping for course %d", courseID), err)
	}
	return &m, nil
}

func (r *PgCourseMappingRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM chat_course_mappings WHERE id=$1`, id)
	if err != nil {
		return dataAccessError(fmt.Sprintf("delete mapping %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return dataAccessError(fmt.Sprintf("delete mapping %d", id), pgx.ErrNoRows)
	}
	return nil
}
