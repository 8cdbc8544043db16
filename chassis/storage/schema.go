package storage

// DDL for the task core. Idempotent, applied by EnsureSchema.
const schema = `
create table if not exists t_task (
	id text primary key,
	title text not null default '',
	description text not null default '',
	status text not null default 'new',
	assigned_handler text not null default '',
	priority text not null default 'medium',
	requires_approval boolean not null default false,
	approved_at timestamp,
	approved_by text not null default '',
	rejected_at timestamp,
	rejected_by text not null default '',
	rejection_reason text not null default '',
	execution_attempts int not null default 0,
	last_execution_attempt timestamp,
	completed_at timestamp,
	deliverable_url text not null default '',
	execution_error text not null default '',
	metadata jsonb not null default '{}',
	escalated_from text,
	created_dt timestamp not null default localtimestamp,
	updated_dt timestamp not null default localtimestamp
);

create unique index if not exists t_task_escalated_from_idx
	on t_task (escalated_from) where escalated_from is not null;

create index if not exists t_task_eligible_idx
	on t_task (status, created_dt);

create table if not exists t_rate_limit (
	resource text primary key,
	count int not null default 0,
	window_start timestamp not null default localtimestamp
);

create table if not exists t_activity (
	id bigserial primary key,
	task_id text not null default '',
	event text not null default '',
	message text not null default '',
	created_dt timestamp not null default localtimestamp
);
`
