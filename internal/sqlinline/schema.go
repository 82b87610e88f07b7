package sqlinline

// Schema bootstrap. One task row per remote job; user links and favorites
// reference tasks by internal id only. One statement per constant: the
// runner executes over the extended protocol.

const QCreateTasksTable = `--sql a7d31888-e9a0-4823-804e-92bbb62dd1c3
create table if not exists moda_tasks (
  id              bigserial primary key,
  remote_task_id  text not null,
  api_key         text not null,
  kind            text not null,
  model           text not null,
  prompt          text not null,
  negative_prompt text,
  size            text,
  seed            bigint,
  steps           int,
  guidance        double precision,
  input_image_url text,
  status          text not null default 'PENDING',
  request_id      text,
  output_images   text[],
  result_seed     bigint,
  created_at      timestamptz not null default now(),
  completed_at    timestamptz
);
`

const QCreateTasksRemoteIDIndex = `--sql cac58be3-aab9-4356-9869-8ad87f2a5d56
create unique index if not exists moda_tasks_remote_task_id_key on moda_tasks(remote_task_id);
`

const QCreateUserTasksTable = `--sql 98cc6574-23d1-4fcc-a8e9-39f95656a2a6
create table if not exists moda_user_tasks (
  id         bigserial primary key,
  user_id    text not null,
  task_id    bigint not null references moda_tasks(id),
  created_at timestamptz not null default now()
);
`

const QCreateUserTasksUserIDIndex = `--sql 8f4a78ee-267b-4ad3-b225-ea299ea1c86a
create index if not exists moda_user_tasks_user_id_idx on moda_user_tasks(user_id);
`

const QCreateUserTasksTaskIDIndex = `--sql df3f6435-19f3-43af-923b-6569d32ec3fb
create index if not exists moda_user_tasks_task_id_idx on moda_user_tasks(task_id);
`

const QCreateFavoritesTable = `--sql f207cbf4-c9dd-45f0-a3df-b9453f6cadf5
create table if not exists moda_favorites (
  id           bigserial primary key,
  user_id      text not null,
  task_id      bigint not null references moda_tasks(id),
  note         text,
  tags         text[],
  favorited_at timestamptz not null default now(),
  unique (user_id, task_id)
);
`
